// Package ledger records merge runs and the tables they emitted. Callers
// depend on ledger.Ledger; Open selects a driver.
package ledger

import (
	"context"
	"fmt"

	"spectramerge/internal/infra/ledger/memory"
	"spectramerge/internal/infra/ledger/postgres"
	"spectramerge/internal/infra/ledger/sqlite"
	"spectramerge/internal/ledger/core"
)

type (
	Driver   = core.Driver
	Status   = core.Status
	Run      = core.Run
	Artifact = core.Artifact
	Ledger   = core.Ledger
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres

	StatusRunning   = core.StatusRunning
	StatusSucceeded = core.StatusSucceeded
	StatusFailed    = core.StatusFailed
)

var (
	ErrRunNotFound = core.ErrRunNotFound
	ErrRunExists   = core.ErrRunExists
)

// Options selects and parameterizes a ledger driver.
type Options struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
}

// Open constructs the ledger named by opts.Driver. An empty driver means memory.
func Open(ctx context.Context, opts Options) (Ledger, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		return sqlite.New(ctx, opts.SQLitePath)
	case DriverPostgres:
		return postgres.New(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown ledger driver %s", opts.Driver)
	}
}

// NewMemory returns an in-memory ledger.
func NewMemory() Ledger { return memory.New() }
