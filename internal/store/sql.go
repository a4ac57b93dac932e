package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/koltyakov/relink/internal/id"
	"github.com/koltyakov/relink/internal/stats"
)

// sqlStore backs the store with a database/sql connection. SQLite and
// PostgreSQL share everything except the DSN handling and placeholder
// syntax; queries are written with ? placeholders and rebound per driver.
type sqlStore struct {
	db      *sql.DB
	backend string
	rebind  func(string) string
}

var _ Store = (*sqlStore)(nil)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS redirects (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS vanity (
	path TEXT PRIMARY KEY,
	id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS statistics (
	link TEXT NOT NULL,
	type TEXT NOT NULL,
	data TEXT NOT NULL,
	time BIGINT NOT NULL,
	value BIGINT NOT NULL,
	PRIMARY KEY (link, type, data, time)
);
CREATE INDEX IF NOT EXISTS idx_statistics_link ON statistics(link);
`

func (s *sqlStore) migrate(ctx context.Context) error {
	// Executed statement by statement: lib/pq rejects multi-statement Exec
	// in some configurations.
	for _, stmt := range strings.Split(sqlSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.backend, err)
		}
	}
	return nil
}

// identityRebind keeps ? placeholders as-is (SQLite).
func identityRebind(query string) string { return query }

// positionalRebind rewrites ? placeholders to $1..$n (PostgreSQL).
func positionalRebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) GetRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	var to string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT url FROM redirects WHERE id = ?`), link.String()).Scan(&to)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return to, true, nil
}

func (s *sqlStore) SetRedirect(ctx context.Context, link id.ID, to string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback() }()

	var old string
	hadOld := true
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT url FROM redirects WHERE id = ?`), link.String()).Scan(&old)
	if errors.Is(err, sql.ErrNoRows) {
		hadOld = false
	} else if err != nil {
		return "", false, err
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO redirects (id, url) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET url = excluded.url`),
		link.String(), to)
	if err != nil {
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return old, hadOld, nil
}

func (s *sqlStore) RemoveRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	var old string
	err := s.db.QueryRowContext(ctx, s.rebind(`DELETE FROM redirects WHERE id = ? RETURNING url`), link.String()).Scan(&old)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return old, true, nil
}

func (s *sqlStore) GetVanity(ctx context.Context, path string) (id.ID, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM vanity WHERE path = ?`), path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return id.ID{}, false, nil
	}
	if err != nil {
		return id.ID{}, false, err
	}
	link, err := id.Parse(raw)
	if err != nil {
		return id.ID{}, false, fmt.Errorf("stored vanity target %q: %w", raw, err)
	}
	return link, true, nil
}

func (s *sqlStore) SetVanity(ctx context.Context, path string, link id.ID) (id.ID, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return id.ID{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var rawOld string
	hadOld := true
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM vanity WHERE path = ?`), path).Scan(&rawOld)
	if errors.Is(err, sql.ErrNoRows) {
		hadOld = false
	} else if err != nil {
		return id.ID{}, false, err
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO vanity (path, id) VALUES (?, ?) ON CONFLICT (path) DO UPDATE SET id = excluded.id`),
		path, link.String())
	if err != nil {
		return id.ID{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return id.ID{}, false, err
	}
	if !hadOld {
		return id.ID{}, false, nil
	}
	old, err := id.Parse(rawOld)
	if err != nil {
		return id.ID{}, false, fmt.Errorf("stored vanity target %q: %w", rawOld, err)
	}
	return old, true, nil
}

func (s *sqlStore) RemoveVanity(ctx context.Context, path string) (id.ID, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(`DELETE FROM vanity WHERE path = ? RETURNING id`), path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return id.ID{}, false, nil
	}
	if err != nil {
		return id.ID{}, false, err
	}
	old, err := id.Parse(raw)
	if err != nil {
		return id.ID{}, false, fmt.Errorf("stored vanity target %q: %w", raw, err)
	}
	return old, true, nil
}

func (s *sqlStore) IncrementStatistic(ctx context.Context, stat stats.Statistic) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO statistics (link, type, data, time, value) VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT (link, type, data, time) DO UPDATE SET value = statistics.value + 1`),
		stat.Link, string(stat.Type), stat.Data, int64(stat.Time))
	return err
}

func (s *sqlStore) GetStatistic(ctx context.Context, stat stats.Statistic) (stats.Value, bool, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT value FROM statistics WHERE link = ? AND type = ? AND data = ? AND time = ?`),
		stat.Link, string(stat.Type), stat.Data, int64(stat.Time)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stats.Value(value), true, nil
}

func (s *sqlStore) QueryStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error) {
	where, args := statisticsWhere(d)
	query := `SELECT link, type, data, time, value FROM statistics` + where + ` ORDER BY link, type, data, time`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanStatisticValues(rows)
}

func (s *sqlStore) RemoveStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error) {
	where, args := statisticsWhere(d)
	query := `DELETE FROM statistics` + where + ` RETURNING link, type, data, time, value`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	removed, err := scanStatisticValues(rows)
	if err != nil {
		return nil, err
	}
	// DELETE ... RETURNING has no ORDER BY.
	sortStatisticValues(removed)
	return removed, nil
}

func (s *sqlStore) Backend() string { return s.backend }

func (s *sqlStore) Close() error { return s.db.Close() }

func statisticsWhere(d stats.Description) (string, []any) {
	var conds []string
	var args []any
	if d.Link != nil {
		conds = append(conds, "link = ?")
		args = append(args, *d.Link)
	}
	if d.Type != nil {
		conds = append(conds, "type = ?")
		args = append(args, string(*d.Type))
	}
	if d.Data != nil {
		conds = append(conds, "data = ?")
		args = append(args, *d.Data)
	}
	if d.Time != nil {
		conds = append(conds, "time = ?")
		args = append(args, int64(*d.Time))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanStatisticValues(rows *sql.Rows) ([]StatisticValue, error) {
	var values []StatisticValue
	for rows.Next() {
		var sv StatisticValue
		var typ string
		var bucket, value int64
		if err := rows.Scan(&sv.Link, &typ, &sv.Data, &bucket, &value); err != nil {
			return nil, err
		}
		sv.Type = stats.Type(typ)
		sv.Time = stats.Time(bucket)
		sv.Value = stats.Value(value)
		values = append(values, sv)
	}
	return values, rows.Err()
}
