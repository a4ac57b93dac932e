package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/koltyakov/relink/internal/id"
	"github.com/koltyakov/relink/internal/normalized"
	"github.com/koltyakov/relink/internal/stats"
)

// serveRedirect answers public requests: the path is classified as an ID
// or a vanity alias, resolved through the store, and redirected with 302
// for GET and 307 for everything else. Every failure collapses to 404 for
// the caller; the distinction survives only in logs and statistics.
func (s *Server) serveRedirect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	opts := s.options()

	if opts.httpsRedirect && r.TLS == nil {
		s.serveHTTPSRedirect(w, r, opts)
		return
	}

	writeDefaultHeaders(w, r, opts)

	path := strings.TrimPrefix(r.URL.Path, "/")

	// A path with a leading digit is always an ID: a malformed one is a
	// miss, never a vanity lookup.
	var (
		subject string
		vanity  string
		link    id.ID
		haveID  bool
	)
	if id.Candidate(path) {
		if parsed, err := id.Parse(path); err == nil {
			link = parsed
			haveID = true
			subject = parsed.String()
		}
	} else if vanity = normalized.Normalize(path); vanity != "" {
		subject = vanity
		target, ok, err := s.store.GetVanity(r.Context(), vanity)
		if err != nil {
			s.log.Error("vanity lookup failed", "vanity", vanity, "err", err)
		} else if ok {
			link = target
			haveID = true
		}
	}

	var destination string
	if haveID {
		to, ok, err := s.store.GetRedirect(r.Context(), link)
		if err != nil {
			s.log.Error("redirect lookup failed", "id", link.String(), "err", err)
		} else if ok {
			destination = to
		}
	}

	status := http.StatusNotFound
	if destination != "" {
		if r.Method == http.MethodGet {
			status = http.StatusFound
		} else {
			status = http.StatusTemporaryRedirect
		}
		w.Header().Set("Location", destination)
		w.Header().Set("Link-Id", link.String())
	}
	w.WriteHeader(status)

	if subject != "" {
		s.agg.Observe(stats.Collect(subject, r, status, opts.categories)...)
	}

	idValue := ""
	if haveID {
		idValue = link.String()
	}
	s.log.Info("request",
		"method", r.Method,
		"host", r.Host,
		"path", r.URL.Path,
		"id", idValue,
		"vanity", vanity,
		"status", status,
		"duration", time.Since(start),
	)
}

// serveHTTPSRedirect sends plaintext callers to the same URL over https.
// The method is preserved via 307; an explicit port is dropped so the
// target uses the https default.
func (s *Server) serveHTTPSRedirect(w http.ResponseWriter, r *http.Request, opts *options) {
	writeDefaultHeaders(w, r, opts)

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	w.Header().Set("Location", "https://"+host+r.URL.RequestURI())
	w.WriteHeader(http.StatusTemporaryRedirect)
}

// writeDefaultHeaders sets the headers every redirector response carries,
// 404s included.
func writeDefaultHeaders(w http.ResponseWriter, r *http.Request, opts *options) {
	h := w.Header()
	if opts.server != "" {
		h.Set("Server", opts.server)
	}
	if opts.sendCSP {
		h.Set("Content-Security-Policy", "default-src 'none'; sandbox allow-top-navigation")
	}
	h.Set("Referrer-Policy", "unsafe-url")
	if opts.hsts != "" && r.TLS != nil {
		h.Set("Strict-Transport-Security", opts.hsts)
	}
	if opts.altSvc != "" {
		h.Set("Alt-Svc", opts.altSvc)
	}
	h.Set("Cache-Control", "max-age=600")
}
