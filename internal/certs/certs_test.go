package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koltyakov/relink/internal/config"
)

func writeKeyPair(t *testing.T, dir, name string, domains ...string) config.CertificateSource {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     domains,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certPath := filepath.Join(dir, name+".pem")
	keyPath := filepath.Join(dir, name+".key")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return config.CertificateSource{Domains: domains, Cert: certPath, Key: keyPath}
}

func resolve(t *testing.T, r *Resolver, serverName string) *tls.Certificate {
	t.Helper()
	cert, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: serverName})
	if err != nil {
		t.Fatalf("resolve %q: %v", serverName, err)
	}
	return cert
}

func TestResolverMatching(t *testing.T) {
	dir := t.TempDir()
	exact := writeKeyPair(t, dir, "exact", "example.com")
	wild := writeKeyPair(t, dir, "wild", "*.example.com")
	fallback := writeKeyPair(t, dir, "fallback", "fallback.invalid")
	fallback.Domains = nil

	r := NewResolver(slog.New(slog.DiscardHandler))
	if err := r.Load(&fallback, []config.CertificateSource{exact, wild}); err != nil {
		t.Fatalf("load: %v", err)
	}

	exactCert := resolve(t, r, "example.com")
	wildCert := resolve(t, r, "www.example.com")
	if exactCert == wildCert {
		t.Fatalf("exact and wildcard resolved to the same certificate")
	}
	if got := resolve(t, r, "EXAMPLE.COM."); got != exactCert {
		t.Fatalf("case and trailing dot must not change the match")
	}
	if got := resolve(t, r, "elsewhere.net"); got == exactCert || got == wildCert {
		t.Fatalf("unmatched name must get the default certificate")
	}
	if got := resolve(t, r, ""); got == exactCert || got == wildCert {
		t.Fatalf("absent SNI must get the default certificate")
	}
	// Wildcards cover exactly one label.
	if got := resolve(t, r, "a.b.example.com"); got == wildCert {
		t.Fatalf("wildcard must not cover two labels")
	}
}

func TestResolverRefusesWithoutMatch(t *testing.T) {
	dir := t.TempDir()
	exact := writeKeyPair(t, dir, "exact", "example.com")

	r := NewResolver(slog.New(slog.DiscardHandler))
	if _, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "example.com"}); !errors.Is(err, ErrNoCertificate) {
		t.Fatalf("unloaded resolver must refuse, got %v", err)
	}

	if err := r.Load(nil, []config.CertificateSource{exact}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "elsewhere.net"}); !errors.Is(err, ErrNoCertificate) {
		t.Fatalf("expected refusal without default, got %v", err)
	}
}

func TestResolverInternationalizedDomains(t *testing.T) {
	dir := t.TempDir()
	src := writeKeyPair(t, dir, "idn", "xn--80aikifvh.com")
	src.Domains = []string{"приклад.com"}

	r := NewResolver(slog.New(slog.DiscardHandler))
	if err := r.Load(nil, []config.CertificateSource{src}); err != nil {
		t.Fatalf("load: %v", err)
	}
	// Clients send the ACE form in SNI.
	resolve(t, r, "xn--80aikifvh.com")
}

func TestResolverKeepsMaterialOnFailedReload(t *testing.T) {
	dir := t.TempDir()
	src := writeKeyPair(t, dir, "site", "example.com")

	r := NewResolver(slog.New(slog.DiscardHandler))
	if err := r.Load(nil, []config.CertificateSource{src}); err != nil {
		t.Fatalf("load: %v", err)
	}
	want := resolve(t, r, "example.com")

	if err := os.WriteFile(src.Cert, []byte("not a certificate"), 0o644); err != nil {
		t.Fatalf("corrupt cert: %v", err)
	}
	// Reload fails to read the file but keeps serving the old material.
	if err := r.Load(nil, []config.CertificateSource{src}); err != nil {
		t.Fatalf("reload with retained material must not error, got %v", err)
	}
	if got := resolve(t, r, "example.com"); got != want {
		t.Fatalf("previous material was not retained")
	}
}

func TestResolverLoadErrors(t *testing.T) {
	r := NewResolver(slog.New(slog.DiscardHandler))
	missing := config.CertificateSource{Domains: []string{"example.com"}, Cert: "missing.pem", Key: "missing.key"}
	if err := r.Load(nil, []config.CertificateSource{missing}); err == nil {
		t.Fatalf("expected load error")
	}

	dir := t.TempDir()
	bad := writeKeyPair(t, dir, "bad", "example.com")
	bad.Domains = []string{"-bad-.example.com"}
	if err := r.Load(nil, []config.CertificateSource{bad}); err == nil {
		t.Fatalf("expected domain parse error")
	}
}

func TestResolverDropsRemovedSources(t *testing.T) {
	dir := t.TempDir()
	a := writeKeyPair(t, dir, "a", "a.example.com")
	b := writeKeyPair(t, dir, "b", "b.example.com")

	r := NewResolver(slog.New(slog.DiscardHandler))
	if err := r.Load(nil, []config.CertificateSource{a, b}); err != nil {
		t.Fatalf("load: %v", err)
	}
	resolve(t, r, "a.example.com")

	if err := r.Load(nil, []config.CertificateSource{b}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "a.example.com"}); !errors.Is(err, ErrNoCertificate) {
		t.Fatalf("removed source must stop matching, got %v", err)
	}
	resolve(t, r, "b.example.com")
}
