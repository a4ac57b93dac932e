package server

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/stats"
	"github.com/koltyakov/relink/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:   "info",
		Token:      "test-token",
		Statistics: stats.DefaultCategories(),
		HSTS:       config.HSTSEnable,
		HSTSMaxAge: 63072000,
		SendServer: true,
		SendCSP:    true,
		Store:      "memory",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	st, err := store.Open(context.Background(), "memory", nil)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	cur := store.NewCurrent(testLogger())
	cur.Swap(st)
	t.Cleanup(func() { _ = cur.Close() })

	var level slog.LevelVar
	return New(cfg, config.ServerOptions{}, cur, &level, testLogger(), "v1.2.3")
}

// runServer starts Run and returns a stop function that cancels it and
// waits for the result.
func runServer(t *testing.T, s *Server) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the listeners a moment to come up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.listeners)
		s.mu.Unlock()
		if n == len(s.cfg.Load().Listeners) {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatalf("server did not stop")
			return nil
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Listeners = []config.Listener{
		{Protocol: config.ProtoAPI, Host: "127.0.0.1", Port: 0},
		{Protocol: config.ProtoHTTP, Host: "127.0.0.1", Port: 0},
	}
	s := newTestServer(t, cfg)

	stop := runServer(t, s)
	if err := stop(); err != nil {
		t.Fatalf("run: %v", err)
	}

	s.mu.Lock()
	n := len(s.listeners)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("listeners still open after shutdown: %d", n)
	}
}

func TestRunFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := testConfig()
	cfg.Listeners = []config.Listener{
		{Protocol: config.ProtoAPI, Host: "127.0.0.1", Port: uint16(port)},
	}
	s := newTestServer(t, cfg)

	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected bind error")
	}
}

func TestRunFlushesStatistics(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(t, cfg)

	stop := runServer(t, s)
	stat := stats.Statistic{Link: "example", Type: stats.TypeRequest, Time: stats.Now()}
	s.agg.Observe(stat)

	deadline := time.Now().Add(2 * time.Second)
	for {
		v, ok, err := s.store.GetStatistic(context.Background(), stat)
		if err != nil {
			t.Fatalf("get statistic: %v", err)
		}
		if ok && v == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("statistic not flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := stop(); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestServerHeaderValue(t *testing.T) {
	if got := serverHeaderValue("v0.9.2"); got != "relink/0.9.2" {
		t.Fatalf("serverHeaderValue = %q", got)
	}
	if got := serverHeaderValue("dev"); got != "relink/dev" {
		t.Fatalf("serverHeaderValue = %q", got)
	}
}
