// Package sqlite provides the run ledger on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"spectramerge/internal/infra/ledger/sqlstore"
	"spectramerge/internal/ledger/core"
)

const defaultPath = "spectramerge.db"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
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
		run_id TEXT NOT NULL REFERENCES runs(id),
		transcript TEXT NOT NULL,
		object_key TEXT NOT NULL,
		url TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		etag TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, transcript)
	)`,
}

// Dialect is the sqlite flavour of the ledger SQL.
var Dialect = sqlstore.Dialect{Driver: core.DriverSQLite, Bind: sqlstore.QuestionBind, Schema: schema}

// New opens (creating when needed) the ledger file at path.
func New(ctx context.Context, path string) (*sqlstore.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Emit workers record artifacts concurrently; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
