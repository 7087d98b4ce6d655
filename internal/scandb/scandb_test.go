package scandb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestOpenMigratesSchema(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("fresh database reports dirty migration state")
	}
	if version != 3 {
		t.Errorf("Expected schema version 3, got %d", version)
	}

	for _, table := range []string{"runs", "coalescence", "candidates", "events", "picks", "volumes"} {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Expected table %s to exist", table)
		}
	}
}

func TestOpenSetsJournalMode(t *testing.T) {
	db := newTestDB(t)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("Failed to read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected journal_mode wal, got %q", mode)
	}
}

func TestMigrateDownAndBackUp(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2 after rollback, got %d", version)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='volumes'`).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check volumes table: %v", err)
	}
	if count != 0 {
		t.Error("Expected volumes table to be dropped by rollback")
	}

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	version, _, err = db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 3 {
		t.Errorf("Expected version 3 after re-migrate, got %d", version)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.StartRun(ctx, "detect")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	run, err := db.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Kind != "detect" {
		t.Errorf("Expected kind detect, got %q", run.Kind)
	}
	if run.Status != RunRunning {
		t.Errorf("Expected status %q, got %q", RunRunning, run.Status)
	}
	if !run.Finished.IsZero() {
		t.Errorf("Expected zero finish time on a running run, got %v", run.Finished)
	}

	if err := db.CompleteRun(ctx, id, "1200 ticks scanned"); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
	run, err = db.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun after complete failed: %v", err)
	}
	if run.Status != RunCompleted {
		t.Errorf("Expected status %q, got %q", RunCompleted, run.Status)
	}
	if run.Finished.IsZero() {
		t.Error("Expected finish time to be set")
	}
	if run.Detail != "1200 ticks scanned" {
		t.Errorf("Expected detail to round-trip, got %q", run.Detail)
	}
}

func TestFailRun(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.StartRun(ctx, "locate")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := db.FailRun(ctx, id, "travel-time table missing"); err != nil {
		t.Fatalf("FailRun failed: %v", err)
	}

	run, err := db.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunFailed {
		t.Errorf("Expected status %q, got %q", RunFailed, run.Status)
	}
	if run.Detail != "travel-time table missing" {
		t.Errorf("Expected failure detail to round-trip, got %q", run.Detail)
	}
}

func TestRunsBetween(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, kind := range []string{"detect", "trigger", "locate"} {
		if _, err := db.StartRun(ctx, kind); err != nil {
			t.Fatalf("StartRun %s failed: %v", kind, err)
		}
	}

	runs, err := db.RunsBetween(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RunsBetween failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].Started.After(runs[i-1].Started) {
			t.Error("Expected runs ordered newest first")
		}
	}
}

func TestFinishUnknownRun(t *testing.T) {
	db := newTestDB(t)

	err := db.CompleteRun(context.Background(), uuid.New(), "done")
	if err == nil {
		t.Error("Expected error completing unknown run")
	}
}
