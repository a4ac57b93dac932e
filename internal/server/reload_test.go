package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/store"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// newSourceServer builds a server from a config source, the way the CLI
// does, so reloads observe real load semantics.
func newSourceServer(t *testing.T, src config.Source, opts config.ServerOptions) *Server {
	t.Helper()
	cfg, err := src.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	st, err := store.Open(context.Background(), cfg.Store, cfg.StoreConfig)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cur := store.NewCurrent(testLogger())
	cur.Swap(st)
	t.Cleanup(func() { _ = cur.Close() })

	opts.Source = src
	var level slog.LevelVar
	return New(cfg, opts, cur, &level, testLogger(), "v1.2.3")
}

func closeListeners(s *Server) {
	s.mu.Lock()
	open := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		open = append(open, l)
	}
	s.listeners = map[config.Listener]*listener{}
	s.mu.Unlock()
	for _, l := range open {
		l.close()
	}
}

func listenerCount(s *Server) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func TestReloadAppliesOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relink.yaml")
	writeConfig(t, path, "listeners: []\ntoken: first-token\n")
	s := newSourceServer(t, config.Source{Path: path}, config.ServerOptions{})
	h := s.apiHandler()

	if w := apiRequest(h, http.MethodGet, "/api/v1/statistics", "first-token", ""); w.Code != http.StatusOK {
		t.Fatalf("initial token: status = %d", w.Code)
	}

	writeConfig(t, path, "listeners: []\ntoken: second-token\nsend_server: false\nlog_level: debug\n")
	s.Reload(context.Background())

	if w := apiRequest(h, http.MethodGet, "/api/v1/statistics", "first-token", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("old token: status = %d", w.Code)
	}
	if w := apiRequest(h, http.MethodGet, "/api/v1/statistics", "second-token", ""); w.Code != http.StatusOK {
		t.Fatalf("new token: status = %d", w.Code)
	}
	if got := s.level.Level(); got != slog.LevelDebug {
		t.Fatalf("level = %v", got)
	}
	w := redirect(s, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if got := w.Header().Get("Server"); got != "" {
		t.Fatalf("Server header = %q with send_server off", got)
	}
}

func TestReloadBadConfigKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relink.yaml")
	writeConfig(t, path, "listeners: []\ntoken: first-token\n")
	s := newSourceServer(t, config.Source{Path: path}, config.ServerOptions{})

	writeConfig(t, path, "log_level: loud\n")
	s.Reload(context.Background())

	if w := apiRequest(s.apiHandler(), http.MethodGet, "/api/v1/statistics", "first-token", ""); w.Code != http.StatusOK {
		t.Fatalf("token after failed reload: status = %d", w.Code)
	}
	if got := s.cfg.Load().LogLevel; got != "info" {
		t.Fatalf("log level = %q", got)
	}
}

func TestReloadKeepsGeneratedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relink.yaml")
	writeConfig(t, path, "listeners: []\n")
	s := newSourceServer(t, config.Source{Path: path}, config.ServerOptions{})

	cfg := s.cfg.Load()
	if !cfg.TokenGenerated {
		t.Fatalf("token should be generated")
	}
	token := cfg.Token

	writeConfig(t, path, "listeners: []\nsend_csp: false\n")
	s.Reload(context.Background())

	cfg = s.cfg.Load()
	if cfg.Token != token || !cfg.TokenGenerated {
		t.Fatalf("generated token rotated on reload")
	}
	if w := apiRequest(s.apiHandler(), http.MethodGet, "/api/v1/statistics", token, ""); w.Code != http.StatusOK {
		t.Fatalf("generated token: status = %d", w.Code)
	}

	// An explicit token still replaces it.
	writeConfig(t, path, "listeners: []\ntoken: explicit\n")
	s.Reload(context.Background())

	cfg = s.cfg.Load()
	if cfg.Token != "explicit" || cfg.TokenGenerated {
		t.Fatalf("explicit token not applied: %+v", cfg.TokenGenerated)
	}
}

func TestReloadSwapsStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relink.yaml")
	writeConfig(t, path, "listeners: []\ntoken: test-token\n")
	s := newSourceServer(t, config.Source{Path: path}, config.ServerOptions{})

	if got := s.store.Backend(); got != "memory" {
		t.Fatalf("backend = %q", got)
	}

	dbPath := filepath.Join(dir, "links.db")
	writeConfig(t, path, "listeners: []\ntoken: test-token\nstore: sqlite\nstore_config:\n  file: "+dbPath+"\n")
	s.Reload(context.Background())

	if got := s.store.Backend(); got != "sqlite" {
		t.Fatalf("backend = %q", got)
	}
	if got := s.cfg.Load().Store; got != "sqlite" {
		t.Fatalf("config store = %q", got)
	}
}

func TestReloadStoreFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relink.yaml")
	writeConfig(t, path, "listeners: []\ntoken: test-token\n")
	s := newSourceServer(t, config.Source{Path: path}, config.ServerOptions{})

	// The database parent is a regular file, so opening must fail.
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	dbPath := filepath.Join(blocker, "links.db")
	writeConfig(t, path, "listeners: []\ntoken: test-token\nstore: sqlite\nstore_config:\n  file: "+dbPath+"\n")
	s.Reload(context.Background())

	if got := s.store.Backend(); got != "memory" {
		t.Fatalf("backend = %q", got)
	}
	// The recorded store config reverts too, so fixing the file later
	// still registers as a change.
	if got := s.cfg.Load().Store; got != "memory" {
		t.Fatalf("config store = %q", got)
	}
}

func TestReloadListenersDiff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relink.yaml")
	writeConfig(t, path, "listeners: []\ntoken: test-token\n")
	s := newSourceServer(t, config.Source{Path: path}, config.ServerOptions{})
	t.Cleanup(func() { closeListeners(s) })

	if n := listenerCount(s); n != 0 {
		t.Fatalf("listeners = %d", n)
	}

	writeConfig(t, path, "listeners: [\"api:127.0.0.1:0\"]\ntoken: test-token\n")
	s.Reload(context.Background())
	if n := listenerCount(s); n != 1 {
		t.Fatalf("listeners after add = %d", n)
	}

	writeConfig(t, path, "listeners: []\ntoken: test-token\n")
	s.Reload(context.Background())
	if n := listenerCount(s); n != 0 {
		t.Fatalf("listeners after remove = %d", n)
	}
}

func TestWatcherTriggersReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relink.yaml")
	writeConfig(t, path, "listeners: []\ntoken: test-token\n")
	s := newSourceServer(t, config.Source{Path: path},
		config.ServerOptions{WatcherDebounce: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.startWatcher(ctx, s.cfg.Load()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer func() { _ = s.watcher.Close() }()

	writeConfig(t, path, "listeners: []\ntoken: test-token\nsend_csp: false\n")

	deadline := time.Now().Add(2 * time.Second)
	for s.options().sendCSP {
		if time.Now().After(deadline) {
			t.Fatalf("change not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
