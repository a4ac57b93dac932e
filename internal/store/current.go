package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/koltyakov/relink/internal/id"
	"github.com/koltyakov/relink/internal/stats"
)

const defaultSwapCloseGrace = 5 * time.Second

var _ Store = (*Current)(nil)
var _ stats.Incrementer = (*Current)(nil)

// Current is the store handle the rest of the process reads through. The
// backing store can be swapped at runtime when configuration changes, without
// interrupting requests that are already being served.
type Current struct {
	s   atomic.Pointer[Store]
	log *slog.Logger

	// In-flight operations may still hold the store being replaced; it is
	// closed only after this grace period.
	swapCloseGrace time.Duration
}

// NewCurrent returns a handle with no backing store attached. Operations
// return ErrUnavailable until the first Swap.
func NewCurrent(log *slog.Logger) *Current {
	return &Current{log: log, swapCloseGrace: defaultSwapCloseGrace}
}

// Swap attaches s as the backing store and closes the previous one, if any,
// in the background.
func (c *Current) Swap(s Store) {
	old := c.s.Swap(&s)
	if old == nil || *old == nil {
		return
	}
	prev := *old
	grace := c.swapCloseGrace
	go func() {
		time.Sleep(grace)
		if err := prev.Close(); err != nil {
			c.log.Warn("closing replaced store", "backend", prev.Backend(), "error", err)
		}
	}()
}

func (c *Current) store() (Store, error) {
	if p := c.s.Load(); p != nil && *p != nil {
		return *p, nil
	}
	return nil, ErrUnavailable
}

func (c *Current) GetRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	s, err := c.store()
	if err != nil {
		return "", false, err
	}
	return s.GetRedirect(ctx, link)
}

func (c *Current) SetRedirect(ctx context.Context, link id.ID, to string) (string, bool, error) {
	s, err := c.store()
	if err != nil {
		return "", false, err
	}
	return s.SetRedirect(ctx, link, to)
}

func (c *Current) RemoveRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	s, err := c.store()
	if err != nil {
		return "", false, err
	}
	return s.RemoveRedirect(ctx, link)
}

func (c *Current) GetVanity(ctx context.Context, path string) (id.ID, bool, error) {
	s, err := c.store()
	if err != nil {
		return id.ID{}, false, err
	}
	return s.GetVanity(ctx, path)
}

func (c *Current) SetVanity(ctx context.Context, path string, link id.ID) (id.ID, bool, error) {
	s, err := c.store()
	if err != nil {
		return id.ID{}, false, err
	}
	return s.SetVanity(ctx, path, link)
}

func (c *Current) RemoveVanity(ctx context.Context, path string) (id.ID, bool, error) {
	s, err := c.store()
	if err != nil {
		return id.ID{}, false, err
	}
	return s.RemoveVanity(ctx, path)
}

func (c *Current) IncrementStatistic(ctx context.Context, stat stats.Statistic) error {
	s, err := c.store()
	if err != nil {
		return err
	}
	return s.IncrementStatistic(ctx, stat)
}

func (c *Current) GetStatistic(ctx context.Context, stat stats.Statistic) (stats.Value, bool, error) {
	s, err := c.store()
	if err != nil {
		return 0, false, err
	}
	return s.GetStatistic(ctx, stat)
}

func (c *Current) QueryStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error) {
	s, err := c.store()
	if err != nil {
		return nil, err
	}
	return s.QueryStatistics(ctx, d)
}

func (c *Current) RemoveStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error) {
	s, err := c.store()
	if err != nil {
		return nil, err
	}
	return s.RemoveStatistics(ctx, d)
}

// Backend names the attached backend, or "none" before the first Swap.
func (c *Current) Backend() string {
	s, err := c.store()
	if err != nil {
		return "none"
	}
	return s.Backend()
}

// Close detaches and closes the backing store.
func (c *Current) Close() error {
	old := c.s.Swap(nil)
	if old == nil || *old == nil {
		return nil
	}
	return (*old).Close()
}
