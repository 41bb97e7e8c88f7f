package postgres

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"spectramerge/internal/ledger/core"
)

func withStub(t *testing.T, conn func(*stubConn)) (*stubConn, *string) {
	t.Helper()
	db, stub := newStubDB(t)
	if conn != nil {
		conn(stub)
	}
	var gotDSN string
	prev := sqlOpen
	sqlOpen = func(driverName, dsn string) (*sql.DB, error) {
		if driverName != defaultDriver {
			t.Fatalf("unexpected driver %s", driverName)
		}
		gotDSN = dsn
		return db, nil
	}
	t.Cleanup(func() { sqlOpen = prev })
	return stub, &gotDSN
}

func TestNew_AppliesSchemaAndStoresRuns(t *testing.T) {
	stub, dsn := withStub(t, nil)
	ctx := context.Background()
	store, err := New(ctx, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if *dsn != defaultDSN {
		t.Fatalf("expected default dsn, got %q", *dsn)
	}
	if len(stub.execs) != len(schema) || !strings.Contains(stub.execs[0], "CREATE TABLE IF NOT EXISTS runs") {
		t.Fatalf("schema not applied: %v", stub.execs)
	}
	if store.Driver() != core.DriverPostgres {
		t.Fatalf("driver %s", store.Driver())
	}

	started := time.UnixMilli(1_700_000_000_000).UTC()
	run := core.Run{ID: "r1", StartedAt: started, Status: core.StatusRunning, RNASeq: "s3://in/rna.csv", OutDir: "out", Measure: "logfc"}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("begin: %v", err)
	}
	insert := stub.execs[len(stub.execs)-1]
	if !strings.Contains(insert, "$13") || strings.Contains(insert, "?") {
		t.Fatalf("expected dollar binds: %s", insert)
	}

	run.Status, run.FinishedAt = core.StatusSucceeded, started.Add(time.Second)
	if err := store.FinishRun(ctx, run); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if update := stub.execs[len(stub.execs)-1]; !strings.Contains(update, "WHERE id = $7") {
		t.Fatalf("unexpected update: %s", update)
	}

	runs, err := store.Runs(ctx, 5)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" || runs[0].RNASeq != "s3://in/rna.csv" || !runs[0].StartedAt.Equal(started) {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestNew_PingFailure(t *testing.T) {
	withStub(t, func(c *stubConn) { c.failPing = true })
	if _, err := New(context.Background(), "postgres://db/ledger"); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}
