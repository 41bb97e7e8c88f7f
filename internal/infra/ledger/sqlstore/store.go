// Package sqlstore implements the run ledger over database/sql. The sqlite
// and postgres drivers differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"spectramerge/internal/ledger/core"
)

var _ core.Ledger = (*Store)(nil)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Driver core.Driver
	// Bind renders the n-th (1-based) bind parameter.
	Bind func(n int) string
	// Schema is applied in order when the store opens.
	Schema []string
}

// QuestionBind renders sqlite style "?" parameters.
func QuestionBind(int) string { return "?" }

// DollarBind renders postgres style "$n" parameters.
func DollarBind(n int) string { return fmt.Sprintf("$%d", n) }

// Store persists runs and artifacts in two tables. Timestamps are stored as
// unix milliseconds and exclusion counts as JSON text.
type Store struct {
	db *sql.DB
	d  Dialect
}

// New applies the dialect schema to db and returns a store over it.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply ledger schema: %w", err)
		}
	}
	return &Store{db: db, d: d}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) binds(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.d.Bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

const runColumns = "id, started_at, finished_at, status, error, rnaseq, spectral, fieldbook, out_dir, measure, transcripts, artifacts, excluded"

func (s *Store) BeginRun(ctx context.Context, run core.Run) error {
	excluded, err := encodeExcluded(run.Excluded)
	if err != nil {
		return err
	}
	query := "INSERT INTO runs(" + runColumns + ") VALUES(" + s.binds(13) + ")"
	_, err = s.db.ExecContext(ctx, query,
		run.ID, millis(run.StartedAt), millis(run.FinishedAt), string(run.Status), run.Error,
		run.RNASeq, run.Spectral, run.Fieldbook, run.OutDir, run.Measure,
		run.Transcripts, run.Artifacts, excluded)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) RecordArtifact(ctx context.Context, a core.Artifact) error {
	query := "INSERT INTO artifacts(run_id, transcript, object_key, url, row_count, size_bytes, etag, created_at) VALUES(" + s.binds(8) + ")" +
		" ON CONFLICT (run_id, transcript) DO UPDATE SET object_key = excluded.object_key, url = excluded.url," +
		" row_count = excluded.row_count, size_bytes = excluded.size_bytes, etag = excluded.etag, created_at = excluded.created_at"
	if _, err := s.db.ExecContext(ctx, query,
		a.RunID, a.Transcript, a.Key, a.URL, a.Rows, a.Size, a.ETag, millis(a.CreatedAt)); err != nil {
		return fmt.Errorf("insert artifact %s/%s: %w", a.RunID, a.Transcript, err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run core.Run) error {
	excluded, err := encodeExcluded(run.Excluded)
	if err != nil {
		return err
	}
	b := s.d.Bind
	query := fmt.Sprintf("UPDATE runs SET finished_at = %s, status = %s, error = %s, transcripts = %s, artifacts = %s, excluded = %s WHERE id = %s",
		b(1), b(2), b(3), b(4), b(5), b(6), b(7))
	res, err := s.db.ExecContext(ctx, query,
		millis(run.FinishedAt), string(run.Status), run.Error, run.Transcripts, run.Artifacts, excluded, run.ID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, core.ErrRunNotFound)
	}
	return nil
}

func (s *Store) Runs(ctx context.Context, limit int) ([]core.Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT " + s.d.Bind(1)
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Run
	for rows.Next() {
		var (
			r                 core.Run
			started, finished int64
			status, excluded  string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &status, &r.Error,
			&r.RNASeq, &r.Spectral, &r.Fieldbook, &r.OutDir, &r.Measure,
			&r.Transcripts, &r.Artifacts, &excluded); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, r.FinishedAt, r.Status = fromMillis(started), fromMillis(finished), core.Status(status)
		if r.Excluded, err = decodeExcluded(excluded); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (s *Store) Artifacts(ctx context.Context, runID string) ([]core.Artifact, error) {
	query := "SELECT run_id, transcript, object_key, url, row_count, size_bytes, etag, created_at FROM artifacts WHERE run_id = " +
		s.d.Bind(1) + " ORDER BY transcript"
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("select artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Artifact
	for rows.Next() {
		var (
			a       core.Artifact
			created int64
		)
		if err := rows.Scan(&a.RunID, &a.Transcript, &a.Key, &a.URL, &a.Rows, &a.Size, &a.ETag, &created); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

func (s *Store) Driver() core.Driver { return s.d.Driver }

func (s *Store) Close() error { return s.db.Close() }

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func encodeExcluded(m map[string]int) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode exclusions: %w", err)
	}
	return string(data), nil
}

func decodeExcluded(raw string) (map[string]int, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m map[string]int
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode exclusions: %w", err)
	}
	return m, nil
}
