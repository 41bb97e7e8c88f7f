// Package core defines the run ledger records and the store contract shared
// by the ledger drivers.
package core

import (
	"context"
	"errors"
	"maps"
	"time"
)

// Driver identifies a ledger backend.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / one-shot runs)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Status of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one invocation of the merge.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      Status
	Error       string
	RNASeq      string
	Spectral    string
	Fieldbook   string
	OutDir      string
	Measure     string
	Transcripts int
	Artifacts   int
	Excluded    map[string]int
}

// Clone returns a deep copy of r.
func (r Run) Clone() Run {
	r.Excluded = maps.Clone(r.Excluded)
	return r
}

// Artifact is one emitted transcript table.
type Artifact struct {
	RunID      string
	Transcript string
	Key        string
	URL        string
	Rows       int
	Size       int64
	ETag       string
	CreatedAt  time.Time
}

// Ledger records runs and their artifacts. Implementations are safe for
// concurrent use.
type Ledger interface {
	BeginRun(ctx context.Context, run Run) error
	RecordArtifact(ctx context.Context, a Artifact) error
	// FinishRun stores the final status, error, counts and exclusions of run.
	FinishRun(ctx context.Context, run Run) error
	// Runs returns the most recent runs first, at most limit when limit > 0.
	Runs(ctx context.Context, limit int) ([]Run, error)
	// Artifacts returns the artifacts of a run ordered by transcript.
	Artifacts(ctx context.Context, runID string) ([]Artifact, error)
	Driver() Driver
	Close() error
}

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("ledger: run not found")

// ErrRunExists is returned by BeginRun for a duplicate run id.
var ErrRunExists = errors.New("ledger: run already exists")
