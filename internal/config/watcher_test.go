package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForChange(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for change notification")
	}
}

func newTestWatcher(t *testing.T) (*Watcher, <-chan struct{}) {
	t.Helper()
	ch := make(chan struct{}, 1)
	w, err := NewWatcher(20*time.Millisecond, slog.New(slog.DiscardHandler), func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	return w, ch
}

func TestWatcherNotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relink.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, ch := newTestWatcher(t)
	w.SetPaths([]string{path})

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForChange(t, ch)
}

func TestWatcherNotifiesOnAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, ch := newTestWatcher(t)
	w.SetPaths([]string{path})

	tmp := filepath.Join(dir, "cert.pem.tmp")
	if err := os.WriteFile(tmp, []byte("new"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitForChange(t, ch)
}

func TestWatcherSetPathsReplaces(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	pathA := filepath.Join(dirA, "a.pem")
	pathB := filepath.Join(dirB, "b.pem")
	for _, p := range []string{pathA, pathB} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	w, ch := newTestWatcher(t)
	w.SetPaths([]string{pathA})
	w.SetPaths([]string{pathB})

	if err := os.WriteFile(pathB, []byte("y"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForChange(t, ch)
}
