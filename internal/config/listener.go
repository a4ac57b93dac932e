package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Listener protocols.
const (
	ProtoHTTP  = "http"
	ProtoHTTPS = "https"
	ProtoHTTP3 = "http3"
	ProtoAPI   = "api"
	ProtoAPIS  = "apis"
)

// defaultPorts maps listener protocols to the port used when the
// listener string leaves it empty.
var defaultPorts = map[string]uint16{
	ProtoHTTP:  80,
	ProtoHTTPS: 443,
	ProtoHTTP3: 443,
	ProtoAPI:   50051,
	ProtoAPIS:  530,
}

var defaultListeners = []string{"http::", "https::", "http3::", "api:[::1]:", "apis::"}

// Listener is one serving endpoint in protocol:ip:port form. An empty ip
// binds all interfaces, an empty port the protocol default.
type Listener struct {
	Protocol string
	Host     string
	Port     uint16
}

// ParseListener parses a "protocol:ip:port" spec. The ip may be a bracketed
// IPv6 address.
func ParseListener(s string) (Listener, error) {
	proto, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Listener{}, fmt.Errorf("listener %q: missing address", s)
	}
	def, known := defaultPorts[proto]
	if !known {
		return Listener{}, fmt.Errorf("listener %q: unknown protocol %q", s, proto)
	}

	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return Listener{}, fmt.Errorf("listener %q: missing port separator", s)
	}
	host, portPart := rest[:i], rest[i+1:]
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	port := def
	if portPart != "" {
		n, err := strconv.ParseUint(portPart, 10, 16)
		if err != nil {
			return Listener{}, fmt.Errorf("listener %q: port: %w", s, err)
		}
		port = uint16(n)
	}
	return Listener{Protocol: proto, Host: host, Port: port}, nil
}

// ParseListeners parses a list of listener specs.
func ParseListeners(specs []string) ([]Listener, error) {
	listeners := make([]Listener, 0, len(specs))
	for _, spec := range specs {
		l, err := ParseListener(strings.TrimSpace(spec))
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}

// Addr returns the host:port form the listener binds on.
func (l Listener) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(int(l.Port)))
}

// Network returns the transport of the listener: udp for http3, else tcp.
func (l Listener) Network() string {
	if l.Protocol == ProtoHTTP3 {
		return "udp"
	}
	return "tcp"
}

// TLS reports whether the listener terminates TLS.
func (l Listener) TLS() bool {
	switch l.Protocol {
	case ProtoHTTPS, ProtoHTTP3, ProtoAPIS:
		return true
	}
	return false
}

func (l Listener) String() string {
	host := l.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return l.Protocol + ":" + host + ":" + strconv.Itoa(int(l.Port))
}
