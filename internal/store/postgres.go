package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// openPostgres connects to the server named by the "connect" option (a
// postgres:// URL or key=value DSN), verifies the connection, and runs
// migrations.
func openPostgres(ctx context.Context, options map[string]string) (Store, error) {
	dsn := optString(options, "connect", "")
	if dsn == "" {
		return nil, errors.New("postgres store requires the connect option")
	}
	maxConns, err := optInt(options, "pool_size", 10)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	s := &sqlStore{db: db, backend: "postgres", rebind: positionalRebind}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
