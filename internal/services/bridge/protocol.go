package bridge

import (
	"encoding/json"
	"errors"
)

// Action names a bridge entry point.
type Action string

const (
	ActionReadProbe        Action = "read_probe"
	ActionDetectDevice     Action = "detect_device"
	ActionPreprocess       Action = "preprocess"
	ActionSort             Action = "sort"
	ActionPlotRaster       Action = "plot_raster"
	ActionExtractWaveforms Action = "extract_waveforms"
	ActionComputeFeatures  Action = "compute_features"
	ActionExportPhy        Action = "export_phy"
)

// Request is a single bridge invocation.
type Request struct {
	Action Action
	// Params is marshaled as the "params" object of the stdin payload.
	Params any
	// RequestID correlates bridge log lines with the driver log.
	RequestID string
	// Progress, when set, receives progress events as they arrive.
	Progress func(ProgressUpdate)
}

// Result carries the data object of the bridge result event.
type Result struct {
	Data json.RawMessage
}

// Decode unmarshals the result payload into v.
func (r Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("bridge result has no data")
	}
	return json.Unmarshal(r.Data, v)
}

// ProgressUpdate captures bridge progress events.
type ProgressUpdate struct {
	Percent float64
	Message string
}

type envelope struct {
	RequestID string `json:"request_id,omitempty"`
	Params    any    `json:"params"`
}

type event struct {
	Event   string          `json:"event"`
	Level   string          `json:"level,omitempty"`
	Message string          `json:"message,omitempty"`
	Percent float64         `json:"percent,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Contact is one electrode site reported by read_probe.
type Contact struct {
	ChannelID int     `json:"channel_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Group     int     `json:"group"`
}

// ProbeInfo is the read_probe result.
type ProbeInfo struct {
	Contacts []Contact `json:"contacts"`
}

// DeviceInfo is the detect_device result.
type DeviceInfo struct {
	CUDA bool   `json:"cuda"`
	Name string `json:"name,omitempty"`
}

// PreprocessParams configures the preprocess action.
type PreprocessParams struct {
	Recording   string  `json:"recording"`
	StreamID    string  `json:"stream_id"`
	ProbeFile   string  `json:"probe_file"`
	FreqMin     float64 `json:"freq_min"`
	FreqMax     float64 `json:"freq_max"`
	NotchFreq   float64 `json:"notch_freq"`
	NotchQ      float64 `json:"notch_q"`
	WhitenDtype string  `json:"whiten_dtype"`
	OutputDir   string  `json:"output_dir"`
	NJobs       int     `json:"n_jobs"`
	TotalMemory string  `json:"total_memory"`
}

// PreprocessResult describes the saved scratch recording.
type PreprocessResult struct {
	NumChannels       int     `json:"num_channels"`
	SamplingFrequency float64 `json:"sampling_frequency"`
	DurationSeconds   float64 `json:"duration_s"`
}

// SortParams configures the sort action.
type SortParams struct {
	Sorter       string         `json:"sorter"`
	RecordingDir string         `json:"recording_dir"`
	WorkDir      string         `json:"work_dir"`
	OutputDir    string         `json:"output_dir"`
	Params       map[string]any `json:"params"`
}

// SortResult reports the sorter outcome.
type SortResult struct {
	NumUnits int `json:"num_units"`
}

// PlotParams configures the plot_raster action.
type PlotParams struct {
	SortingDir string `json:"sorting_dir"`
	Title      string `json:"title"`
	YLabel     string `json:"ylabel"`
	OutputPath string `json:"output_path"`
}

// WaveformParams configures the extract_waveforms action.
type WaveformParams struct {
	RecordingDir     string  `json:"recording_dir"`
	SortingDir       string  `json:"sorting_dir"`
	OutputDir        string  `json:"output_dir"`
	MsBefore         float64 `json:"ms_before"`
	MsAfter          float64 `json:"ms_after"`
	MaxSpikesPerUnit int     `json:"max_spikes_per_unit"`
	NJobs            int     `json:"n_jobs"`
	TotalMemory      string  `json:"total_memory"`
}

// WaveformResult reports the number of units with extracted waveforms.
type WaveformResult struct {
	NumUnits int `json:"num_units"`
}

// FeatureParams configures the compute_features action.
type FeatureParams struct {
	WaveformsDir      string `json:"waveforms_dir"`
	ComputePCFeatures bool   `json:"compute_pc_features"`
	PCNComponents     int    `json:"pc_n_components"`
	PCMode            string `json:"pc_mode"`
	ComputeAmplitudes bool   `json:"compute_amplitudes"`
	SpikeAmpPeakSign  string `json:"spike_amp_peak_sign"`
	NJobs             int    `json:"n_jobs"`
}

// ExportParams configures the export_phy action.
type ExportParams struct {
	WaveformsDir      string `json:"waveforms_dir"`
	OutputDir         string `json:"output_dir"`
	CopyBinary        bool   `json:"copy_binary"`
	ComputePCFeatures bool   `json:"compute_pc_features"`
	ComputeAmplitudes bool   `json:"compute_amplitudes"`
	NJobs             int    `json:"n_jobs"`
	TotalMemory       string `json:"total_memory"`
}
