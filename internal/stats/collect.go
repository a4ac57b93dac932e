package stats

import (
	"crypto/tls"
	"net/http"
	"strconv"

	"github.com/koltyakov/relink/internal/netutil"
)

// Collect derives the statistics for one served request. The link is the
// canonical ID string or normalized vanity path; when it is empty the
// request has no subject and nothing is collected. Statistics outside the
// enabled categories, and those whose source data is absent (no TLS, no
// user agent header), are skipped.
func Collect(link string, r *http.Request, status int, cats Categories) []Statistic {
	if link == "" {
		return nil
	}
	now := Now()
	out := make([]Statistic, 0, 10)
	add := func(t Type, data string) {
		out = append(out, Statistic{Link: link, Type: t, Data: data, Time: now})
	}

	if cats.Specifies(TypeRequest) {
		add(TypeRequest, "")
	}
	if cats.Specifies(TypeStatusCode) {
		add(TypeStatusCode, strconv.Itoa(status))
	}
	if cats.Specifies(TypeHostRequest) {
		if host := netutil.NormalizeHost(r.Host); host != "" {
			add(TypeHostRequest, host)
		}
	}
	if cats.Specifies(TypeHTTPVersion) {
		add(TypeHTTPVersion, httpVersion(r))
	}

	if r.TLS != nil {
		if cats.Specifies(TypeSniRequest) && r.TLS.ServerName != "" {
			add(TypeSniRequest, r.TLS.ServerName)
		}
		if cats.Specifies(TypeTLSVersion) {
			if name := tlsVersionName(r.TLS.Version); name != "" {
				add(TypeTLSVersion, name)
			}
		}
		if cats.Specifies(TypeTLSCipherSuite) {
			add(TypeTLSCipherSuite, tls.CipherSuiteName(r.TLS.CipherSuite))
		}
	}

	if cats.UserAgent {
		if ua := r.Header.Get("Sec-CH-UA"); ua != "" {
			add(TypeUserAgent, ua)
		} else if ua := r.Header.Get("User-Agent"); ua != "" {
			add(TypeUserAgent, ua)
		}
		if v := r.Header.Get("Sec-CH-UA-Mobile"); v != "" {
			add(TypeUserAgentMobile, v)
		}
		if v := r.Header.Get("Sec-CH-UA-Platform"); v != "" {
			add(TypeUserAgentPlatform, v)
		}
	}

	return out
}

func httpVersion(r *http.Request) string {
	switch {
	case r.ProtoMajor == 0 && r.ProtoMinor == 9:
		return "HTTP/0.9"
	case r.ProtoMajor == 1 && r.ProtoMinor == 0:
		return "HTTP/1.0"
	case r.ProtoMajor == 1 && r.ProtoMinor == 1:
		return "HTTP/1.1"
	case r.ProtoMajor == 2:
		return "HTTP/2"
	case r.ProtoMajor == 3:
		return "HTTP/3"
	}
	return "HTTP/???"
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLSv1.0"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	}
	return ""
}
