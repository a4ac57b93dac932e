// Package server runs the relink listeners: the public redirector over
// HTTP, HTTPS, and HTTP/3, and the management API over plain and
// TLS-terminated HTTP. Everything a request reads (header options, the
// token digest, certificates, the store) lives behind atomic swaps, so
// in-flight requests observe a fully-old or fully-new view across
// reloads, never a mix.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go/http3"

	"github.com/koltyakov/relink/internal/certs"
	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/stats"
	"github.com/koltyakov/relink/internal/store"
)

const (
	shutdownTimeout  = 5 * time.Second
	httpReadTimeout  = 30 * time.Second
	httpWriteTimeout = 30 * time.Second
	httpIdleTimeout  = 75 * time.Second
	maxHeaderBytes   = 1 << 20
)

type Server struct {
	log     *slog.Logger
	level   *slog.LevelVar
	version string

	store    *store.Current
	resolver *certs.Resolver
	agg      *stats.Aggregator

	// source reproduces the startup configuration layering on reload.
	source   config.Source
	debounce time.Duration
	watcher  *config.Watcher

	cfg  atomic.Pointer[config.Config]
	opts atomic.Pointer[options]

	mu        sync.Mutex
	listeners map[config.Listener]*listener

	errCh chan error
}

// New builds a server around an already opened store. The store changes
// hands: from Run on, the server owns it, swaps it on reload, and closes
// it at shutdown.
func New(cfg *config.Config, opts config.ServerOptions, st *store.Current, level *slog.LevelVar, logger *slog.Logger, version string) *Server {
	s := &Server{
		log:       logger,
		level:     level,
		version:   version,
		store:     st,
		resolver:  certs.NewResolver(logger),
		source:    opts.Source,
		debounce:  opts.WatcherDebounce,
		listeners: map[config.Listener]*listener{},
		errCh:     make(chan error, 1),
	}
	s.agg = stats.NewAggregator(st, logger)
	s.cfg.Store(cfg)
	s.opts.Store(newOptions(cfg, version))
	return s
}

func (s *Server) options() *options {
	return s.opts.Load()
}

// Run loads certificates and opens every configured listener, then
// blocks until ctx is cancelled or a listener fails fatally. Shutdown
// drains the listeners, flushes pending statistics, and closes the
// store.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfg.Load()

	if err := s.resolver.Load(cfg.DefaultCertificate, cfg.Certificates); err != nil {
		return fmt.Errorf("load certificates: %w", err)
	}

	if err := s.startWatcher(ctx, cfg); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if s.watcher != nil {
		defer func() { _ = s.watcher.Close() }()
	}

	aggCtx, aggCancel := context.WithCancel(context.Background())
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		s.agg.Run(aggCtx)
	}()

	for _, spec := range cfg.Listeners {
		if err := s.openListener(spec); err != nil {
			s.shutdown(aggCancel, aggDone)
			return err
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-s.errCh:
	}
	s.shutdown(aggCancel, aggDone)
	return runErr
}

// shutdown closes listeners first so no new observations arrive, then
// stops the aggregator so queued statistics flush into the store, and
// finally releases the store itself.
func (s *Server) shutdown(aggCancel context.CancelFunc, aggDone <-chan struct{}) {
	s.mu.Lock()
	open := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		open = append(open, l)
	}
	s.listeners = map[config.Listener]*listener{}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range open {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.close()
		}()
	}
	wg.Wait()

	aggCancel()
	select {
	case <-aggDone:
	case <-time.After(shutdownTimeout):
		s.log.Warn("statistics flush timed out")
	}

	if err := s.store.Close(); err != nil {
		s.log.Warn("closing store", "err", err)
	}
}

// listener is one running serving endpoint.
type listener struct {
	spec  config.Listener
	close func()
}

// openListener binds and starts serving one listener spec. The bind is
// synchronous so configuration errors surface immediately; serve errors
// after a successful bind are fatal for the whole server.
func (s *Server) openListener(spec config.Listener) error {
	var l *listener
	var err error
	switch spec.Protocol {
	case config.ProtoHTTP:
		l, err = s.openHTTP(spec, http.HandlerFunc(s.serveRedirect), nil)
	case config.ProtoHTTPS:
		l, err = s.openHTTP(spec, http.HandlerFunc(s.serveRedirect), s.tlsConfig([]string{"h2", "http/1.1"}))
	case config.ProtoHTTP3:
		l, err = s.openHTTP3(spec)
	case config.ProtoAPI:
		l, err = s.openHTTP(spec, s.apiHandler(), nil)
	case config.ProtoAPIS:
		l, err = s.openHTTP(spec, s.apiHandler(), s.tlsConfig([]string{"h2", "http/1.1"}))
	default:
		return fmt.Errorf("listener %s: unknown protocol", spec)
	}
	if err != nil {
		return fmt.Errorf("listener %s: %w", spec, err)
	}

	s.mu.Lock()
	s.listeners[spec] = l
	s.mu.Unlock()
	return nil
}

func (s *Server) openHTTP(spec config.Listener, handler http.Handler, tlsConf *tls.Config) (*listener, error) {
	ln, err := net.Listen(spec.Network(), spec.Addr())
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       httpReadTimeout,
		WriteTimeout:      httpWriteTimeout,
		IdleTimeout:       httpIdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
		TLSConfig:         tlsConf,
	}

	go func() {
		s.log.Info("starting listener", "listener", spec.String(), "addr", ln.Addr().String())
		var err error
		if tlsConf != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.fail(fmt.Errorf("listener %s: %w", spec, err))
		}
	}()

	return &listener{
		spec: spec,
		close: func() {
			if err := shutdownServer(srv, shutdownTimeout); err != nil {
				s.log.Warn("closing listener", "listener", spec.String(), "err", err)
			}
		},
	}, nil
}

func (s *Server) openHTTP3(spec config.Listener) (*listener, error) {
	conn, err := net.ListenPacket(spec.Network(), spec.Addr())
	if err != nil {
		return nil, err
	}

	srv := &http3.Server{
		Handler:   http.HandlerFunc(s.serveRedirect),
		TLSConfig: http3.ConfigureTLSConfig(s.tlsConfig(nil)),
	}

	go func() {
		s.log.Info("starting listener", "listener", spec.String(), "addr", conn.LocalAddr().String())
		if err := srv.Serve(conn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.fail(fmt.Errorf("listener %s: %w", spec, err))
		}
	}()

	return &listener{
		spec: spec,
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Warn("closing listener", "listener", spec.String(), "err", err)
			}
			_ = conn.Close()
		},
	}, nil
}

// fail reports a fatal listener error to Run. Later errors during the
// resulting shutdown are dropped.
func (s *Server) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) tlsConfig(nextProtos []string) *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: s.resolver.GetCertificate,
		NextProtos:     nextProtos,
	}
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func serverHeaderValue(version string) string {
	return "relink/" + strings.TrimPrefix(version, "v")
}
