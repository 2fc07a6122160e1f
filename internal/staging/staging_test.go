package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spikeflow/internal/logging"
)

const scratchName = "preprocessed_recording_output_temp"

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle", scratchName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	leftover := filepath.Join(path, "old.raw")
	if err := os.WriteFile(leftover, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	scratch, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatalf("expected leftover content cleared, stat err=%v", err)
	}
	if scratch.Join("recording") != filepath.Join(path, "recording") {
		t.Fatalf("unexpected join: %q", scratch.Join("recording"))
	}
	if err := os.WriteFile(scratch.Join("traces.raw"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	scratch.Release(logging.NewNop())
	scratch.Release(logging.NewNop())
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected scratch removed, stat err=%v", err)
	}
}

func TestReleaseNilScratch(t *testing.T) {
	var scratch *Scratch
	scratch.Release(logging.NewNop())
}

func TestCleanStaleInvalidRoots(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, scratchName, time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for root %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldScratch(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "ratA", "s1", scratchName)
	recentDir := filepath.Join(root, "s2_merged.rec", scratchName)
	keepDir := filepath.Join(root, "s3_merged.rec", "phy")
	for _, dir := range []string{oldDir, recentDir, keepDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldDir, oldTime, oldTime); err != nil {
		t.Fatalf("set old time: %v", err)
	}

	result := CleanStale(context.Background(), root, scratchName, 24*time.Hour, logging.NewNop())
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != oldDir {
		t.Fatalf("expected only %s removed, got %v", oldDir, result.Removed)
	}
	for _, dir := range []string{recentDir, keepDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected %s to remain: %v", dir, err)
		}
	}
}

func TestCleanStaleZeroAgeRemovesAll(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "s1_merged.rec", scratchName)
	if err := os.MkdirAll(filepath.Join(dir, "recording"), 0o755); err != nil {
		t.Fatal(err)
	}
	result := CleanStale(context.Background(), root, scratchName, 0, logging.NewNop())
	if len(result.Removed) != 1 {
		t.Fatalf("expected scratch removed, got %+v", result)
	}
}
