package server

import (
	"fmt"
	"strconv"

	"github.com/koltyakov/relink/internal/auth"
	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/stats"
)

// options is the per-reload view of everything request handling reads.
// Reload builds a fresh value and swaps it in one atomic store.
type options struct {
	tokenHash     string
	categories    stats.Categories
	httpsRedirect bool
	sendCSP       bool

	// Precomputed header values, empty when the header is off.
	server string
	hsts   string
	altSvc string
}

func newOptions(cfg *config.Config, version string) *options {
	o := &options{
		tokenHash:     auth.HashToken(cfg.Token),
		categories:    cfg.Statistics,
		httpsRedirect: cfg.HTTPSRedirect,
		sendCSP:       cfg.SendCSP,
	}
	if cfg.SendServer {
		o.server = serverHeaderValue(version)
	}
	switch cfg.HSTS {
	case config.HSTSEnable:
		o.hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
	case config.HSTSIncludeSubDomains:
		o.hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge) + "; includeSubDomains"
	case config.HSTSPreload:
		o.hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge) + "; includeSubDomains; preload"
	}
	if cfg.SendAltSvc {
		if port, ok := http3Port(cfg.Listeners); ok {
			o.altSvc = fmt.Sprintf(`h3=":%d"; ma=31536000`, port)
		}
	}
	return o
}

// http3Port returns the advertisable HTTP/3 port, the first http3
// listener's.
func http3Port(listeners []config.Listener) (uint16, bool) {
	for _, l := range listeners {
		if l.Protocol == config.ProtoHTTP3 {
			return l.Port, true
		}
	}
	return 0, false
}
