// Package postgres provides the run ledger on a PostgreSQL server through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"spectramerge/internal/infra/ledger/sqlstore"
	"spectramerge/internal/ledger/core"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/spectramerge?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at BIGINT NOT NULL,
		finished_at BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		rnaseq TEXT NOT NULL,
		spectral TEXT NOT NULL,
		fieldbook TEXT NOT NULL,
		out_dir TEXT NOT NULL,
		measure TEXT NOT NULL,
		transcripts INTEGER NOT NULL DEFAULT 0,
		artifacts INTEGER NOT NULL DEFAULT 0,
		excluded TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		transcript TEXT NOT NULL,
		object_key TEXT NOT NULL,
		url TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		size_bytes BIGINT NOT NULL,
		etag TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (run_id, transcript)
	)`,
	`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC)`,
}

// Dialect is the postgres flavour of the ledger SQL.
var Dialect = sqlstore.Dialect{Driver: core.DriverPostgres, Bind: sqlstore.DollarBind, Schema: schema}

// New connects to dsn (falls back to a local default), verifies the
// connection and applies the ledger schema.
func New(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
