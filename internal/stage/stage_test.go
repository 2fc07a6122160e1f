package stage

import (
	"path/filepath"
	"testing"

	"spikeflow/internal/staging"
)

func TestLabel(t *testing.T) {
	tests := map[string]string{
		ExtractWaveforms: "Extract Waveforms",
		Sort:             "Sort",
		"":               "",
		MarkComplete:     "Mark Complete",
	}
	for in, want := range tests {
		if got := Label(in); got != want {
			t.Fatalf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOrderStartsAndEnds(t *testing.T) {
	if Order[0] != Preprocess || Order[len(Order)-1] != MarkComplete {
		t.Fatalf("unexpected stage order: %v", Order)
	}
	seen := map[string]bool{}
	for _, name := range Order {
		if seen[name] {
			t.Fatalf("duplicate stage %q", name)
		}
		seen[name] = true
	}
}

func TestJobScratchPaths(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scratch")
	scratch, err := staging.Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	job := &Job{Scratch: scratch}
	if job.RecordingDir() != filepath.Join(dir, ScratchRecording) {
		t.Fatalf("unexpected recording dir: %q", job.RecordingDir())
	}
	if job.SorterWorkDir() != filepath.Join(dir, ScratchSorterRun) {
		t.Fatalf("unexpected sorter dir: %q", job.SorterWorkDir())
	}
	if job.SortingDir() != filepath.Join(dir, ScratchSorting) {
		t.Fatalf("unexpected sorting dir: %q", job.SortingDir())
	}
}

func TestHealth(t *testing.T) {
	if h := Healthy("python"); !h.Ready || h.Name != "python" {
		t.Fatalf("unexpected healthy record: %+v", h)
	}
	if h := Unhealthy("probe", "missing"); h.Ready || h.Detail != "missing" {
		t.Fatalf("unexpected unhealthy record: %+v", h)
	}
}
