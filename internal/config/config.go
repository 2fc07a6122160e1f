package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file locations.
type Paths struct {
	InputDir  string `toml:"input_dir"`
	OutputDir string `toml:"output_dir"`
	ProbeFile string `toml:"probe_file"`
	LogDir    string `toml:"log_dir"`
	StateDir  string `toml:"state_dir"`
}

// Recording controls discovery of raw recording files.
type Recording struct {
	// Suffix is matched against file names anywhere under the input directory.
	Suffix   string `toml:"suffix"`
	StreamID string `toml:"stream_id"`
	// BundleNaming selects the per-recording output directory name:
	// "basename" uses the file name, "relative" uses the path below the input
	// directory with the extension removed.
	BundleNaming string `toml:"bundle_naming"`
	DisableBatch bool   `toml:"disable_batch"`
	File         string `toml:"file"`
}

// Preprocessing contains filter and whitening settings.
type Preprocessing struct {
	FreqMin   float64 `toml:"freq_min"`
	FreqMax   float64 `toml:"freq_max"`
	NotchFreq float64 `toml:"notch_freq"`
	NotchQ    float64 `toml:"notch_q"`
	// ResampleRate is accepted but never applied; saving a resampled recording
	// breaks downstream stages.
	ResampleRate float64 `toml:"resample_rate"`
	WhitenDtype  string  `toml:"whiten_dtype"`
}

// Sorter selects the spike sorter and its parameter overrides.
type Sorter struct {
	Name     string         `toml:"name"`
	Params   map[string]any `toml:"params"`
	ForceCPU bool           `toml:"force_cpu"`
}

// Waveforms contains waveform extraction settings.
type Waveforms struct {
	MsBefore         float64 `toml:"ms_before"`
	MsAfter          float64 `toml:"ms_after"`
	MaxSpikesPerUnit int     `toml:"max_spikes_per_unit"`
	NJobs            int     `toml:"n_jobs"`
	TotalMemory      string  `toml:"total_memory"`
}

// Features contains post-processing extension settings.
type Features struct {
	ComputePCFeatures bool   `toml:"compute_pc_features"`
	ComputeAmplitudes bool   `toml:"compute_amplitudes"`
	PCNComponents     int    `toml:"pc_n_components"`
	PCMode            string `toml:"pc_mode"`
	SpikeAmpPeakSign  string `toml:"spike_amp_peak_sign"`
}

// Export contains viewer export settings.
type Export struct {
	// DatPathLine replaces the first line of the exported params.py.
	DatPathLine string `toml:"dat_path_line"`
	CopyBinary  bool   `toml:"copy_binary"`
}

// Output controls what is retained in each output bundle.
type Output struct {
	KeepPreprocessed  bool `toml:"keep_preprocessed"`
	StaleScratchHours int  `toml:"stale_scratch_hours"`
}

// Bridge configures how the external toolkit is launched.
type Bridge struct {
	Python              string `toml:"python"`
	StageTimeoutMinutes int    `toml:"stage_timeout_minutes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for spikeflow.
//
// Configuration sections by subsystem:
//   - Paths: input/output roots, probe file, log and state directories
//   - Recording: discovery suffix, stream id, bundle naming, single-item mode
//   - Preprocessing: bandpass, notch, whitening
//   - Sorter: sorter choice, parameter overrides, CPU forcing
//   - Waveforms: extraction window and job settings
//   - Features: principal components and spike amplitudes
//   - Export: Phy export and params.py patching
//   - Output: retention of intermediate data
//   - Bridge: Python interpreter and stage timeout
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Recording     Recording     `toml:"recording"`
	Preprocessing Preprocessing `toml:"preprocessing"`
	Sorter        Sorter        `toml:"sorter"`
	Waveforms     Waveforms     `toml:"waveforms"`
	Features      Features      `toml:"features"`
	Export        Export        `toml:"export"`
	Output        Output        `toml:"output"`
	Bridge        Bridge        `toml:"bridge"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/spikeflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("spikeflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the log and state directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ResolveProbeFile returns the probe file to load. When no probe file is
// configured the default probe shipped next to the executable is used.
func (c *Config) ResolveProbeFile() (string, error) {
	if path := strings.TrimSpace(c.Paths.ProbeFile); path != "" {
		return expandPath(path)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable for default probe: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), DefaultProbeFileName), nil
}

// HistoryPath returns the SQLite run ledger location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LogFilePath returns the persistent log file location.
func (c *Config) LogFilePath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "spikeflow.log")
}

// ParseSortParams decodes a JSON object of sorter parameter overrides. An empty
// string decodes to an empty map.
func ParseSortParams(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("sort params must be a JSON object: %w", err)
	}
	if params == nil {
		return nil, errors.New("sort params must be a JSON object, got null")
	}
	return params, nil
}

// MergeSortParams overlays overrides on top of the configured sorter params.
func (c *Config) MergeSortParams(overrides map[string]any) {
	if len(overrides) == 0 {
		return
	}
	if c.Sorter.Params == nil {
		c.Sorter.Params = make(map[string]any, len(overrides))
	}
	for key, value := range overrides {
		c.Sorter.Params[key] = value
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
