package server

import (
	"context"

	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/log"
	"github.com/koltyakov/relink/internal/store"
)

// Reload reapplies the configuration sources the server was started
// with. Each piece applies independently: a piece that fails keeps its
// previous state while the rest still takes effect.
func (s *Server) Reload(ctx context.Context) {
	prev := s.cfg.Load()

	cfg, err := s.source.Load()
	if err != nil {
		s.log.Error("config reload failed, keeping previous configuration", "err", err)
		return
	}

	// Loading cannot reproduce a startup-generated token, so a reload
	// never rotates the token; only an explicit token option changes it.
	if cfg.TokenGenerated {
		cfg.Token = prev.Token
		cfg.TokenGenerated = prev.TokenGenerated
	}

	s.level.Set(log.Level(cfg.LogLevel))

	if err := s.resolver.Load(cfg.DefaultCertificate, cfg.Certificates); err != nil {
		s.log.Error("certificate reload incomplete", "err", err)
	}

	if !cfg.SameStore(prev) {
		if st, err := store.Open(ctx, cfg.Store, cfg.StoreConfig); err != nil {
			s.log.Error("store reload failed, keeping previous store",
				"backend", cfg.Store, "err", err)
			cfg.Store = prev.Store
			cfg.StoreConfig = prev.StoreConfig
		} else {
			s.store.Swap(st)
			s.log.Info("store replaced", "backend", cfg.Store)
		}
	}

	s.applyListeners(cfg.Listeners)

	s.opts.Store(newOptions(cfg, s.version))
	s.cfg.Store(cfg)

	if s.watcher != nil {
		s.watcher.SetPaths(watchPaths(s.source.Path, cfg))
	}

	s.log.Info("configuration reloaded",
		"log_level", cfg.LogLevel,
		"store", cfg.Store,
		"listeners", len(cfg.Listeners),
	)
}

// applyListeners reconciles the running listener set against the new
// config: removed listeners close, added ones open, unchanged ones keep
// serving undisturbed. A listener that fails to open is logged and
// skipped.
func (s *Server) applyListeners(next []config.Listener) {
	want := make(map[config.Listener]bool, len(next))
	for _, spec := range next {
		want[spec] = true
	}

	s.mu.Lock()
	var closing []*listener
	for spec, l := range s.listeners {
		if !want[spec] {
			delete(s.listeners, spec)
			closing = append(closing, l)
		}
	}
	running := make(map[config.Listener]bool, len(s.listeners))
	for spec := range s.listeners {
		running[spec] = true
	}
	s.mu.Unlock()

	for _, l := range closing {
		s.log.Info("closing listener", "listener", l.spec.String())
		l.close()
	}
	for _, spec := range next {
		if running[spec] {
			continue
		}
		if err := s.openListener(spec); err != nil {
			s.log.Error("opening listener failed", "err", err)
		}
	}
}

// startWatcher begins watching the config file and every certificate
// file, when there is anything to watch. Reloads run on the watcher
// goroutine.
func (s *Server) startWatcher(ctx context.Context, cfg *config.Config) error {
	paths := watchPaths(s.source.Path, cfg)
	if len(paths) == 0 {
		return nil
	}
	w, err := config.NewWatcher(s.debounce, s.log, func() { s.Reload(ctx) })
	if err != nil {
		return err
	}
	w.SetPaths(paths)
	s.watcher = w
	go w.Run(ctx)
	return nil
}

func watchPaths(configPath string, cfg *config.Config) []string {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	return append(paths, cfg.CertificateFiles()...)
}
