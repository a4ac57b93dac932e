package store

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/koltyakov/relink/internal/id"
)

type closeTracker struct {
	Store
	closed chan struct{}
}

func (c *closeTracker) Close() error {
	close(c.closed)
	return c.Store.Close()
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCurrentUnavailable(t *testing.T) {
	c := NewCurrent(testLogger())
	if _, _, err := c.GetRedirect(context.Background(), id.Min); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := c.Backend(); got != "none" {
		t.Fatalf("backend = %q", got)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCurrentDelegates(t *testing.T) {
	c := NewCurrent(testLogger())
	c.Swap(newMemory())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	link, err := id.Random()
	if err != nil {
		t.Fatalf("random id: %v", err)
	}
	if _, _, err := c.SetRedirect(ctx, link, "https://example.com/"); err != nil {
		t.Fatalf("set: %v", err)
	}
	to, ok, err := c.GetRedirect(ctx, link)
	if err != nil || !ok || to != "https://example.com/" {
		t.Fatalf("get = %q ok=%v err=%v", to, ok, err)
	}
	if got := c.Backend(); got != "memory" {
		t.Fatalf("backend = %q", got)
	}
}

func TestCurrentSwapClosesPrevious(t *testing.T) {
	c := NewCurrent(testLogger())
	c.swapCloseGrace = 0

	first := &closeTracker{Store: newMemory(), closed: make(chan struct{})}
	second := &closeTracker{Store: newMemory(), closed: make(chan struct{})}

	c.Swap(first)
	c.Swap(second)

	select {
	case <-first.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("replaced store was not closed")
	}
	select {
	case <-second.closed:
		t.Fatalf("active store must stay open")
	default:
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-second.closed:
	default:
		t.Fatalf("close must close the active store")
	}
	if _, _, err := c.GetRedirect(context.Background(), id.Min); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after close, got %v", err)
	}
}
