package store

import (
	"context"
	"sync"

	"github.com/koltyakov/relink/internal/id"
	"github.com/koltyakov/relink/internal/stats"
)

// memory keeps everything in process memory. It is the default backend and
// the reference implementation the other backends are tested against.
type memory struct {
	mu         sync.RWMutex
	redirects  map[id.ID]string
	vanity     map[string]id.ID
	statistics map[stats.Statistic]stats.Value
}

var _ Store = (*memory)(nil)

func newMemory() *memory {
	return &memory{
		redirects:  make(map[id.ID]string),
		vanity:     make(map[string]id.ID),
		statistics: make(map[stats.Statistic]stats.Value),
	}
}

func (m *memory) GetRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	to, ok := m.redirects[link]
	return to, ok, nil
}

func (m *memory) SetRedirect(ctx context.Context, link id.ID, to string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.redirects[link]
	m.redirects[link] = to
	return old, ok, nil
}

func (m *memory) RemoveRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.redirects[link]
	delete(m.redirects, link)
	return old, ok, nil
}

func (m *memory) GetVanity(ctx context.Context, path string) (id.ID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.vanity[path]
	return link, ok, nil
}

func (m *memory) SetVanity(ctx context.Context, path string, link id.ID) (id.ID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.vanity[path]
	m.vanity[path] = link
	return old, ok, nil
}

func (m *memory) RemoveVanity(ctx context.Context, path string) (id.ID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.vanity[path]
	delete(m.vanity, path)
	return old, ok, nil
}

func (m *memory) IncrementStatistic(ctx context.Context, s stats.Statistic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statistics[s] = m.statistics[s].Increment()
	return nil
}

func (m *memory) GetStatistic(ctx context.Context, s stats.Statistic) (stats.Value, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.statistics[s]
	return v, ok, nil
}

func (m *memory) QueryStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var values []StatisticValue
	for s, v := range m.statistics {
		if d.Matches(s) {
			values = append(values, StatisticValue{Statistic: s, Value: v})
		}
	}
	sortStatisticValues(values)
	return values, nil
}

func (m *memory) RemoveStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []StatisticValue
	for s, v := range m.statistics {
		if d.Matches(s) {
			removed = append(removed, StatisticValue{Statistic: s, Value: v})
			delete(m.statistics, s)
		}
	}
	sortStatisticValues(removed)
	return removed, nil
}

func (m *memory) Backend() string { return "memory" }

func (m *memory) Close() error { return nil }
