package bundle

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"spikeflow/internal/units"
)

// Manifest records what produced a bundle. It is informational; completion is
// decided by the marker alone.
type Manifest struct {
	RunID      string         `yaml:"run_id"`
	Recording  string         `yaml:"recording"`
	Bundle     string         `yaml:"bundle"`
	StreamID   string         `yaml:"stream_id"`
	ProbeFile  string         `yaml:"probe_file"`
	Channels   int            `yaml:"channels"`
	Sorter     string         `yaml:"sorter"`
	Device     string         `yaml:"device"`
	Parameters map[string]any `yaml:"parameters"`
	Units      *units.Summary `yaml:"units,omitempty"`
	Stages     []StageTiming  `yaml:"stages"`
	StartedAt  time.Time      `yaml:"started_at"`
	FinishedAt time.Time      `yaml:"finished_at"`
}

// StageTiming is the wall-clock duration of one stage.
type StageTiming struct {
	Name    string  `yaml:"name"`
	Seconds float64 `yaml:"seconds"`
}

// WriteManifest serializes m to manifest.yaml.
func (l Layout) WriteManifest(m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(l.ManifestPath(), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads manifest.yaml from the bundle.
func (l Layout) ReadManifest() (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(l.ManifestPath())
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
