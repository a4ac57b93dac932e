// Package certs resolves TLS certificates by server name. Certificates are
// configured per domain pattern (exact or wildcard), with an optional
// default served when nothing matches; the whole set swaps atomically on
// reload.
package certs

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/domainmap"
)

// ErrNoCertificate refuses handshakes for server names no certificate
// covers.
var ErrNoCertificate = errors.New("no certificate for server name")

// Resolver picks certificates for TLS handshakes from the last loaded
// snapshot.
type Resolver struct {
	snap atomic.Pointer[snapshot]
	log  *slog.Logger
}

type snapshot struct {
	byDomain *domainmap.Map[*tls.Certificate]
	fallback *tls.Certificate

	// materials keeps loaded key pairs by cert/key path pair so a reload
	// that fails to read a file can keep serving the previous material.
	materials map[string]*tls.Certificate
}

// NewResolver returns a resolver with nothing loaded; it refuses every
// handshake until the first Load.
func NewResolver(log *slog.Logger) *Resolver {
	return &Resolver{log: log}
}

// Load replaces the certificate set. A source whose files fail to load
// keeps the material from the previous set when present; otherwise its
// failure is reported in the returned error while the rest of the set still
// applies.
func (r *Resolver) Load(defaultSource *config.CertificateSource, sources []config.CertificateSource) error {
	prev := r.snap.Load()
	var prevMaterials map[string]*tls.Certificate
	if prev != nil {
		prevMaterials = prev.materials
	}

	next := &snapshot{
		byDomain:  domainmap.New[*tls.Certificate](),
		materials: make(map[string]*tls.Certificate),
	}
	var errs []error

	load := func(src config.CertificateSource) *tls.Certificate {
		key := src.Cert + "\x00" + src.Key
		if mat, ok := next.materials[key]; ok {
			return mat
		}
		pair, err := tls.LoadX509KeyPair(src.Cert, src.Key)
		if err != nil {
			if mat, ok := prevMaterials[key]; ok {
				r.log.Warn("certificate reload failed, keeping previous material",
					"cert", src.Cert, "key", src.Key, "error", err)
				next.materials[key] = mat
				return mat
			}
			errs = append(errs, fmt.Errorf("load certificate %s: %w", src.Cert, err))
			return nil
		}
		next.materials[key] = &pair
		return &pair
	}

	if defaultSource != nil {
		next.fallback = load(*defaultSource)
	}
	for _, src := range sources {
		mat := load(src)
		if mat == nil {
			continue
		}
		for _, name := range src.Domains {
			pattern, err := domainmap.Presented(name)
			if err != nil {
				errs = append(errs, fmt.Errorf("certificate domain %q: %w", name, err))
				continue
			}
			next.byDomain.Set(pattern, mat)
		}
	}

	r.snap.Store(next)
	return errors.Join(errs...)
}

// GetCertificate implements [tls.Config.GetCertificate]. Exact matches win
// over wildcards; the default certificate covers everything else. With no
// match and no default the handshake is refused.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	snap := r.snap.Load()
	if snap == nil {
		return nil, ErrNoCertificate
	}
	if hello.ServerName != "" {
		if name, err := domainmap.Reference(hello.ServerName); err == nil {
			if cert, ok := snap.byDomain.Lookup(name); ok {
				return cert, nil
			}
		}
	}
	if snap.fallback != nil {
		return snap.fallback, nil
	}
	return nil, ErrNoCertificate
}
