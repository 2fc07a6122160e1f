package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"spikeflow/internal/ledger"
	"spikeflow/internal/testsupport"
)

func TestRunLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	run := ledger.Run{
		ID:         "run-1",
		InputDir:   cfg.Paths.InputDir,
		OutputDir:  cfg.Paths.OutputDir,
		Sorter:     "kilosort4",
		Discovered: 2,
		StartedAt:  started,
	}
	if err := store.BeginRun(ctx, run); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil || got.Status != "running" {
		t.Fatalf("expected running run, got %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", got.StartedAt, started)
	}
	if !got.FinishedAt.IsZero() {
		t.Fatalf("expected no finish time, got %v", got.FinishedAt)
	}

	run.Status = "finished"
	run.Done = 1
	run.Failed = 1
	run.FinishedAt = started.Add(time.Hour)
	if err := store.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != "finished" || got.Done != 1 || got.Failed != 1 || got.Discovered != 2 {
		t.Fatalf("unexpected finished run %+v", got)
	}
	if !got.FinishedAt.Equal(started.Add(time.Hour)) {
		t.Fatalf("finished_at = %v", got.FinishedAt)
	}
}

func TestGetRunMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	got, err := store.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil run, got %+v", got)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	if err := store.BeginRun(ctx, ledger.Run{ID: "run-1"}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	outcomes := []ledger.Outcome{
		{RunID: "run-1", Recording: "a.rec", Bundle: "a.rec", Status: ledger.StatusDone, Units: 3, Spikes: 6,
			StartedAt: base, FinishedAt: base.Add(90 * time.Second)},
		{RunID: "run-1", Recording: "b.rec", Bundle: "b.rec", Status: ledger.StatusFailed, ErrorKind: "external_tool",
			Message: "sorter crashed", StartedAt: base.Add(2 * time.Minute), FinishedAt: base.Add(3 * time.Minute)},
		// Sub-second precision must still order correctly.
		{RunID: "run-1", Recording: "c.rec", Bundle: "c.rec", Status: ledger.StatusSkipped,
			FinishedAt: base.Add(3*time.Minute + 500*time.Millisecond)},
	}
	for _, o := range outcomes {
		if err := store.Record(ctx, o); err != nil {
			t.Fatalf("Record %s: %v", o.Recording, err)
		}
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(recent))
	}
	if recent[0].Recording != "c.rec" || recent[1].Recording != "b.rec" {
		t.Fatalf("unexpected order: %s, %s", recent[0].Recording, recent[1].Recording)
	}
	if recent[1].ErrorKind != "external_tool" || recent[1].Message != "sorter crashed" {
		t.Fatalf("failure details not preserved: %+v", recent[1])
	}
	if recent[0].Duration() != 0 {
		t.Fatalf("outcome without start should report zero duration, got %v", recent[0].Duration())
	}

	all, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected default limit to return all 3, got %d", len(all))
	}
	if all[2].Duration() != 90*time.Second || all[2].Units != 3 || all[2].Spikes != 6 {
		t.Fatalf("unexpected first outcome %+v", all[2])
	}
}

func TestRecordRequiresRunID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	if err := store.Record(context.Background(), ledger.Outcome{Recording: "a.rec"}); err == nil {
		t.Fatal("expected error for missing run id")
	}
	if err := store.BeginRun(context.Background(), ledger.Run{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version: %v", err)
	}
	db.Close()

	_, err = ledger.Open(cfg)
	if !errors.Is(err, ledger.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.BeginRun(context.Background(), ledger.Run{ID: "run-1"}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	store.Close()

	reopened := testsupport.MustOpenLedger(t, cfg)
	got, err := reopened.GetRun(context.Background(), "run-1")
	if err != nil || got == nil {
		t.Fatalf("expected run after reopen, got %+v err=%v", got, err)
	}
}
