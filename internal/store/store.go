// Package store implements redirect, vanity path, and statistics
// persistence behind a common interface, with in-memory, SQLite,
// PostgreSQL, and Redis backends selected by configuration.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/koltyakov/relink/internal/id"
	"github.com/koltyakov/relink/internal/stats"
)

// ErrUnavailable is returned when no backing store is attached yet, or the
// attached store has been shut down.
var ErrUnavailable = errors.New("store unavailable")

// Store is the persistence contract shared by all backends.
//
// Lookups report misses through the ok result rather than an error; errors
// mean the backend itself failed. Set operations return the value they
// replaced, Remove operations the value they removed.
type Store interface {
	GetRedirect(ctx context.Context, link id.ID) (string, bool, error)
	SetRedirect(ctx context.Context, link id.ID, to string) (string, bool, error)
	RemoveRedirect(ctx context.Context, link id.ID) (string, bool, error)

	GetVanity(ctx context.Context, path string) (id.ID, bool, error)
	SetVanity(ctx context.Context, path string, link id.ID) (id.ID, bool, error)
	RemoveVanity(ctx context.Context, path string) (id.ID, bool, error)

	IncrementStatistic(ctx context.Context, s stats.Statistic) error
	GetStatistic(ctx context.Context, s stats.Statistic) (stats.Value, bool, error)
	QueryStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error)
	RemoveStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error)

	// Backend names the backend type ("memory", "sqlite", "postgres", "redis").
	Backend() string
	Close() error
}

// StatisticValue pairs a statistic with its counter value.
type StatisticValue struct {
	stats.Statistic
	Value stats.Value `json:"value"`
}

// Open creates a store backend by name. Options are backend-specific string
// pairs taken verbatim from configuration; unknown keys are ignored.
func Open(ctx context.Context, backend string, options map[string]string) (Store, error) {
	switch backend {
	case "memory":
		return newMemory(), nil
	case "sqlite":
		return openSQLite(ctx, options)
	case "postgres":
		return openPostgres(ctx, options)
	case "redis":
		return openRedis(ctx, options)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// Backends lists the backend names accepted by Open.
func Backends() []string {
	return []string{"memory", "sqlite", "postgres", "redis"}
}

func optString(options map[string]string, key, def string) string {
	if v, ok := options[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func optBool(options map[string]string, key string, def bool) (bool, error) {
	v, ok := options[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("store option %s: %w", key, err)
	}
	return b, nil
}

func optInt(options map[string]string, key string, def int) (int, error) {
	v, ok := options[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("store option %s: %w", key, err)
	}
	return n, nil
}

// sortStatisticValues orders results by link, type, data, time. Backends
// return query and removal results in this order so output is stable across
// backends.
func sortStatisticValues(values []StatisticValue) {
	slices.SortFunc(values, func(a, b StatisticValue) int {
		if c := strings.Compare(a.Link, b.Link); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Type), string(b.Type)); c != 0 {
			return c
		}
		if c := strings.Compare(a.Data, b.Data); c != 0 {
			return c
		}
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})
}
