package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	queueSize    = 4096
	flushTimeout = 5 * time.Second
	watchBuffer  = 64
)

// Incrementer is the single store capability the aggregator needs.
type Incrementer interface {
	IncrementStatistic(ctx context.Context, s Statistic) error
}

// Aggregator buffers request observations and flushes them to the store
// off the request path. The queue is bounded: when it fills, the newest
// observations are dropped so serving a redirect never waits on the
// statistics backend.
type Aggregator struct {
	inc Incrementer
	log *slog.Logger
	ch  chan Statistic

	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

type watcher struct {
	ch chan Statistic
}

// NewAggregator creates an Aggregator flushing into inc. Run must be
// started for observations to be persisted.
func NewAggregator(inc Incrementer, log *slog.Logger) *Aggregator {
	return &Aggregator{
		inc:      inc,
		log:      log,
		ch:       make(chan Statistic, queueSize),
		watchers: make(map[*watcher]struct{}),
	}
}

// Observe enqueues statistics without blocking.
func (a *Aggregator) Observe(stats ...Statistic) {
	for _, s := range stats {
		select {
		case a.ch <- s:
		default:
			a.log.Debug("statistics queue full, dropping observation",
				"link", s.Link, "type", s.Type)
		}
	}
}

// Run flushes queued observations until ctx is canceled, then drains what
// is left in the queue before returning.
func (a *Aggregator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case s := <-a.ch:
			a.flush(s)
		}
	}
}

func (a *Aggregator) drain() {
	for {
		select {
		case s := <-a.ch:
			a.flush(s)
		default:
			return
		}
	}
}

// Flush failures are logged and dropped; statistics are not an integral
// part of serving redirects.
func (a *Aggregator) flush(s Statistic) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.inc.IncrementStatistic(ctx, s); err != nil {
		a.log.Warn("statistic increment failed",
			"link", s.Link, "type", s.Type, "error", err)
		return
	}
	a.broadcast(s)
}

func (a *Aggregator) broadcast(s Statistic) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for w := range a.watchers {
		select {
		case w.ch <- s:
		default:
		}
	}
}

// Watch streams every successfully flushed statistic. Slow consumers lose
// events rather than slowing the flusher down. The stop function must be
// called when the consumer is done.
func (a *Aggregator) Watch() (<-chan Statistic, func()) {
	w := &watcher{ch: make(chan Statistic, watchBuffer)}
	a.mu.Lock()
	a.watchers[w] = struct{}{}
	a.mu.Unlock()
	return w.ch, func() {
		a.mu.Lock()
		delete(a.watchers, w)
		a.mu.Unlock()
	}
}
