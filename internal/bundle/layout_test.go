package bundle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spikeflow/internal/config"
	"spikeflow/internal/recording"
	"spikeflow/internal/units"
)

func testRef() recording.Ref {
	return recording.Ref{
		Path:        "/data/ratA/day1/s1_merged.rec",
		RelPath:     filepath.Join("ratA", "day1", "s1_merged.rec"),
		DisplayName: "s1_merged.rec",
		StreamID:    "trodes",
	}
}

func TestNewLayoutNaming(t *testing.T) {
	basename := NewLayout("/out", testRef(), config.BundleNamingBasename)
	if basename.Base != filepath.Join("/out", "proc", "s1_merged.rec") {
		t.Fatalf("unexpected basename bundle: %q", basename.Base)
	}
	if basename.RasterPlotPath() != filepath.Join("/out", "proc", "s1_merged.rec", "s1_merged.rec_raster_plot.png") {
		t.Fatalf("unexpected raster path: %q", basename.RasterPlotPath())
	}

	relative := NewLayout("/out", testRef(), config.BundleNamingRelative)
	if relative.Base != filepath.Join("/out", "proc", "ratA", "day1", "s1_merged") {
		t.Fatalf("unexpected relative bundle: %q", relative.Base)
	}
	if relative.DisplayName != "s1_merged.rec" {
		t.Fatalf("display name should stay the file name, got %q", relative.DisplayName)
	}
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name   string
		create func(Layout) error
		want   bool
	}{
		{"empty", func(Layout) error { return nil }, false},
		{"phy dir", func(l Layout) error { return os.MkdirAll(l.PhyDir(), 0o755) }, true},
		{"marker", func(l Layout) error {
			if err := os.MkdirAll(l.Base, 0o755); err != nil {
				return err
			}
			return l.WriteMarker(time.Now())
		}, true},
		{"sorter output only", func(l Layout) error { return os.MkdirAll(l.SortingDir(), 0o755) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout := NewLayout(t.TempDir(), testRef(), config.BundleNamingBasename)
			if err := tt.create(layout); err != nil {
				t.Fatalf("setup: %v", err)
			}
			if got := layout.IsComplete(); got != tt.want {
				t.Fatalf("IsComplete = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrepareResetsSorterOutput(t *testing.T) {
	layout := NewLayout(t.TempDir(), testRef(), config.BundleNamingBasename)
	reset, err := layout.Prepare()
	if err != nil || reset {
		t.Fatalf("first Prepare: reset=%v err=%v", reset, err)
	}
	stale := filepath.Join(layout.SortingDir(), "spikes.npy")
	if err := os.MkdirAll(layout.SortingDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	reset, err = layout.Prepare()
	if err != nil || !reset {
		t.Fatalf("second Prepare: reset=%v err=%v", reset, err)
	}
	if _, err := os.Stat(layout.SortingDir()); !os.IsNotExist(err) {
		t.Fatalf("expected sorter output removed, stat err=%v", err)
	}
}

func TestWriteMarkerContent(t *testing.T) {
	layout := NewLayout(t.TempDir(), testRef(), config.BundleNamingBasename)
	if err := os.MkdirAll(layout.Base, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	now := time.Date(2024, 3, 5, 14, 7, 9, 123456000, time.Local)
	if err := layout.WriteMarker(now); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}
	data, err := os.ReadFile(layout.MarkerPath())
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(data) != "Processing completed on 2024-03-05 14:07:09.123456\n" {
		t.Fatalf("unexpected marker: %q", data)
	}
}

func TestPatchParams(t *testing.T) {
	layout := NewLayout(t.TempDir(), testRef(), config.BundleNamingBasename)
	patched, err := PatchParams(layout.PhyDir(), "dat_path = r'./recording.dat'")
	if err != nil || patched {
		t.Fatalf("missing params.py should not patch: patched=%v err=%v", patched, err)
	}

	if err := os.MkdirAll(layout.PhyDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	original := "dat_path = r'/scratch/preprocessed_recording_output_temp/traces.raw'\nn_channels_dat = 32\nsample_rate = 30000.0\n"
	if err := os.WriteFile(layout.ParamsPath(), []byte(original), 0o644); err != nil {
		t.Fatalf("write params: %v", err)
	}
	patched, err = PatchParams(layout.PhyDir(), "dat_path = r'./recording.dat'")
	if err != nil || !patched {
		t.Fatalf("PatchParams: patched=%v err=%v", patched, err)
	}
	data, err := os.ReadFile(layout.ParamsPath())
	if err != nil {
		t.Fatalf("read params: %v", err)
	}
	want := "dat_path = r'./recording.dat'\nn_channels_dat = 32\nsample_rate = 30000.0\n"
	if string(data) != want {
		t.Fatalf("unexpected params.py:\n%s", data)
	}
}

func TestPublishPhyReplacesExport(t *testing.T) {
	layout := NewLayout(t.TempDir(), testRef(), config.BundleNamingBasename)
	if layout.IsComplete() {
		t.Fatal("fresh bundle should not be complete")
	}
	staged := filepath.Join(layout.ScratchDir(), PhyDir)
	if err := os.MkdirAll(staged, 0o755); err != nil {
		t.Fatalf("mkdir staged: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staged, ParamsFile), []byte("dat_path = r'./recording.dat'\n"), 0o644); err != nil {
		t.Fatalf("write params: %v", err)
	}
	if err := os.MkdirAll(layout.PhyDir(), 0o755); err != nil {
		t.Fatalf("mkdir old phy: %v", err)
	}
	if err := os.WriteFile(filepath.Join(layout.PhyDir(), "stale.npy"), nil, 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}

	if err := layout.PublishPhy(staged); err != nil {
		t.Fatalf("PublishPhy: %v", err)
	}
	if exists(staged) {
		t.Fatal("staged export should have moved")
	}
	if !exists(layout.ParamsPath()) || exists(filepath.Join(layout.PhyDir(), "stale.npy")) {
		t.Fatal("phy/ should hold exactly the published export")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	layout := NewLayout(t.TempDir(), testRef(), config.BundleNamingBasename)
	if err := os.MkdirAll(layout.Base, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := Manifest{
		RunID:      "run-1",
		Recording:  testRef().Path,
		Bundle:     layout.Name,
		Sorter:     "kilosort4",
		Device:     "cpu",
		Parameters: map[string]any{"freq_min": 300.0},
		Units:      &units.Summary{Units: []units.Unit{{ID: 1, Spikes: 10}}, TotalSpikes: 10},
		Stages:     []StageTiming{{Name: "sort", Seconds: 1.5}},
	}
	if err := layout.WriteManifest(m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	data, err := os.ReadFile(layout.ManifestPath())
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !strings.Contains(string(data), "sorter: kilosort4") {
		t.Fatalf("manifest missing sorter:\n%s", data)
	}
	got, err := layout.ReadManifest()
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if got.Units == nil || got.Units.TotalSpikes != 10 || got.Stages[0].Name != "sort" {
		t.Fatalf("unexpected manifest: %+v", got)
	}
}

func TestSize(t *testing.T) {
	layout := NewLayout(t.TempDir(), testRef(), config.BundleNamingBasename)
	if err := os.MkdirAll(layout.PhyDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(layout.PhyDir(), "a.npy"), make([]byte, 100), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(layout.MarkerPath(), make([]byte, 24), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	size, err := layout.Size()
	if err != nil || size != 124 {
		t.Fatalf("Size = %d, %v", size, err)
	}
}
