package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"spikeflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The input directory exists and a probe file is written so the config is
// ready for a batch run. Options are applied last.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "data")
	cfgVal.Paths.OutputDir = filepath.Join(base, "out")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.ProbeFile = filepath.Join(base, "probe.prb")
	cfgVal.Output.StaleScratchHours = 0

	if err := os.MkdirAll(cfgVal.Paths.InputDir, 0o755); err != nil {
		t.Fatalf("mkdir input dir: %v", err)
	}
	if err := os.WriteFile(cfgVal.Paths.ProbeFile, []byte(probeFixture), 0o644); err != nil {
		t.Fatalf("write probe fixture: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

const probeFixture = `channel_groups = {
    0: {
        'channels': [0, 1, 2, 3],
        'geometry': {0: (0, 0), 1: (0, 40), 2: (0, 80), 3: (0, 120)},
    }
}
`

// WithSorter selects the sorter on the test config.
func WithSorter(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sorter.Name = name
	}
}

// WithBundleNaming selects the bundle naming mode on the test config.
func WithBundleNaming(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Recording.BundleNaming = mode
	}
}

// WithKeepPreprocessed toggles copying the preprocessed recording into the bundle.
func WithKeepPreprocessed(keep bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Output.KeepPreprocessed = keep
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, python3 is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"python3"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
