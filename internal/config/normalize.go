package config

import (
	"fmt"
	"os"
	"strings"
)

// Normalize expands paths and canonicalizes enum values. Load calls it; the CLI
// calls it again after applying flag overrides.
func (c *Config) Normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRecording()
	c.normalizePreprocessing()
	c.normalizeSorter()
	c.normalizeWaveforms()
	c.normalizeFeatures()
	c.normalizeExport()
	c.normalizeBridge()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.ProbeFile, err = expandPath(strings.TrimSpace(c.Paths.ProbeFile)); err != nil {
		return fmt.Errorf("paths.probe_file: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRecording() {
	c.Recording.Suffix = strings.TrimSpace(c.Recording.Suffix)
	if c.Recording.Suffix == "" {
		c.Recording.Suffix = defaultSuffix
	}
	c.Recording.StreamID = strings.TrimSpace(c.Recording.StreamID)
	if c.Recording.StreamID == "" {
		c.Recording.StreamID = defaultStreamID
	}
	c.Recording.BundleNaming = strings.ToLower(strings.TrimSpace(c.Recording.BundleNaming))
	if c.Recording.BundleNaming == "" {
		c.Recording.BundleNaming = BundleNamingBasename
	}
	c.Recording.File = strings.TrimSpace(c.Recording.File)
}

func (c *Config) normalizePreprocessing() {
	c.Preprocessing.WhitenDtype = strings.ToLower(strings.TrimSpace(c.Preprocessing.WhitenDtype))
	if c.Preprocessing.WhitenDtype == "" {
		c.Preprocessing.WhitenDtype = defaultWhitenDtype
	}
	if c.Preprocessing.NotchQ <= 0 {
		c.Preprocessing.NotchQ = defaultNotchQ
	}
}

func (c *Config) normalizeSorter() {
	c.Sorter.Name = strings.ToLower(strings.TrimSpace(c.Sorter.Name))
	if c.Sorter.Name == "" {
		c.Sorter.Name = SorterKilosort4
	}
	if c.Sorter.Params == nil {
		c.Sorter.Params = map[string]any{}
	}
}

func (c *Config) normalizeWaveforms() {
	c.Waveforms.TotalMemory = strings.TrimSpace(c.Waveforms.TotalMemory)
	if c.Waveforms.TotalMemory == "" {
		c.Waveforms.TotalMemory = defaultTotalMemory
	}
}

func (c *Config) normalizeFeatures() {
	c.Features.PCMode = strings.ToLower(strings.TrimSpace(c.Features.PCMode))
	if c.Features.PCMode == "" {
		c.Features.PCMode = defaultPCMode
	}
	c.Features.SpikeAmpPeakSign = strings.ToLower(strings.TrimSpace(c.Features.SpikeAmpPeakSign))
	if c.Features.SpikeAmpPeakSign == "" {
		c.Features.SpikeAmpPeakSign = defaultSpikeAmpPeakSign
	}
}

func (c *Config) normalizeExport() {
	c.Export.DatPathLine = strings.TrimRight(strings.TrimSpace(c.Export.DatPathLine), "\r\n")
	if c.Export.DatPathLine == "" {
		c.Export.DatPathLine = defaultDatPathLine
	}
}

func (c *Config) normalizeBridge() {
	c.Bridge.Python = strings.TrimSpace(c.Bridge.Python)
	if value, ok := os.LookupEnv("SPIKEFLOW_PYTHON"); ok && strings.TrimSpace(value) != "" {
		c.Bridge.Python = strings.TrimSpace(value)
	}
	if c.Bridge.Python == "" {
		c.Bridge.Python = defaultPython
	}
	if c.Bridge.StageTimeoutMinutes < 0 {
		c.Bridge.StageTimeoutMinutes = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
