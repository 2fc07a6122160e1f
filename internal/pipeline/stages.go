package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"spikeflow/internal/bundle"
	"spikeflow/internal/config"
	"spikeflow/internal/fileutil"
	"spikeflow/internal/logging"
	"spikeflow/internal/services"
	"spikeflow/internal/services/bridge"
	"spikeflow/internal/stage"
	"spikeflow/internal/units"
)

// rasterYLabel labels the unit axis of the raster plot.
const rasterYLabel = "Unit IDs"

// stageEnv is what every stage handler shares.
type stageEnv struct {
	cfg     *config.Config
	toolkit bridge.Toolkit
	logger  *slog.Logger
	now     func() time.Time
}

func (e *stageEnv) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, e.logger)
}

// run issues one bridge action with the stage's correlation id and decodes the
// result into out when out is non-nil.
func (e *stageEnv) run(ctx context.Context, action bridge.Action, params any, out any) error {
	req := bridge.Request{Action: action, Params: params}
	if id, ok := services.RequestIDFromContext(ctx); ok {
		req.RequestID = id
	}
	res, err := e.toolkit.Run(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := res.Decode(out); err != nil {
		return services.Wrap(services.ErrExternalTool, string(action), "decode result", "unexpected result payload", err)
	}
	return nil
}

// handlers returns one handler per stage, in stage.Order.
func (e *stageEnv) handlers() []stage.Handler {
	return []stage.Handler{
		&preprocessStage{e},
		&sortStage{e},
		&persistSortingStage{e},
		&persistPreprocessedStage{e},
		&plotStage{e},
		&waveformStage{e},
		&featureStage{e},
		&exportStage{e},
		&patchParamsStage{e},
		&summarizeStage{e},
		&markCompleteStage{e},
	}
}

type preprocessStage struct{ env *stageEnv }

func (s *preprocessStage) Name() string { return stage.Preprocess }

func (s *preprocessStage) Execute(ctx context.Context, job *stage.Job) error {
	cfg := s.env.cfg
	params := bridge.PreprocessParams{
		Recording:   job.Recording.Path,
		StreamID:    job.Recording.StreamID,
		ProbeFile:   job.Probe.Path,
		FreqMin:     cfg.Preprocessing.FreqMin,
		FreqMax:     cfg.Preprocessing.FreqMax,
		NotchFreq:   cfg.Preprocessing.NotchFreq,
		NotchQ:      cfg.Preprocessing.NotchQ,
		WhitenDtype: cfg.Preprocessing.WhitenDtype,
		OutputDir:   job.RecordingDir(),
		NJobs:       cfg.Waveforms.NJobs,
		TotalMemory: cfg.Waveforms.TotalMemory,
	}
	var res bridge.PreprocessResult
	if err := s.env.run(ctx, bridge.ActionPreprocess, params, &res); err != nil {
		return err
	}
	job.Channels = res.NumChannels

	logger := s.env.log(ctx)
	logger.Info("preprocessed recording saved",
		logging.Int("channels", res.NumChannels),
		logging.Float64("sampling_hz", res.SamplingFrequency),
		logging.Duration("duration", time.Duration(res.DurationSeconds*float64(time.Second)).Round(time.Second)),
	)
	if expected := job.Probe.ChannelCount(); res.NumChannels > 0 && res.NumChannels != expected {
		logging.WarnWithContext(logger, "channel count differs from probe", "channel_mismatch",
			logging.Int("recording_channels", res.NumChannels),
			logging.Int("probe_channels", expected),
			logging.String(logging.FieldImpact, "unmapped channels are dropped by the toolkit"),
		)
	}
	return nil
}

type sortStage struct{ env *stageEnv }

func (s *sortStage) Name() string { return stage.Sort }

func (s *sortStage) Execute(ctx context.Context, job *stage.Job) error {
	cfg := s.env.cfg
	params := bridge.SortParams{
		Sorter:       cfg.Sorter.Name,
		RecordingDir: job.RecordingDir(),
		WorkDir:      job.SorterWorkDir(),
		OutputDir:    job.SortingDir(),
		Params:       SorterParams(cfg, job.Device),
	}
	s.env.log(ctx).Info("running "+cfg.Sorter.Name,
		logging.String("device", job.Device),
		logging.Int("overrides", len(cfg.Sorter.Params)),
	)
	var res bridge.SortResult
	if err := s.env.run(ctx, bridge.ActionSort, params, &res); err != nil {
		return err
	}
	if res.NumUnits == 0 {
		return services.Wrap(services.ErrNoUnits, stage.Sort, "run sorter", "sorter found no units", nil)
	}
	s.env.log(ctx).Info("sorter finished", logging.Int("units", res.NumUnits))
	return nil
}

type persistSortingStage struct{ env *stageEnv }

func (s *persistSortingStage) Name() string { return stage.PersistSorting }

func (s *persistSortingStage) Execute(ctx context.Context, job *stage.Job) error {
	dst := job.Layout.SortingDir()
	if err := os.RemoveAll(dst); err != nil {
		return services.Wrap(services.ErrConfiguration, stage.PersistSorting, "reset", "remove "+dst, err)
	}
	stats, err := fileutil.CopyTree(job.SortingDir(), dst)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stage.PersistSorting, "copy", "save sorted output", err)
	}
	s.env.log(ctx).Info("sorted output saved",
		logging.String("path", dst),
		logging.Int("files", stats.Files),
		logging.String("size", humanize.Bytes(uint64(stats.Bytes))),
	)
	return nil
}

type persistPreprocessedStage struct{ env *stageEnv }

func (s *persistPreprocessedStage) Name() string { return stage.PersistPreprocessed }

func (s *persistPreprocessedStage) Execute(ctx context.Context, job *stage.Job) error {
	logger := s.env.log(ctx)
	if !s.env.cfg.Output.KeepPreprocessed {
		logger.Debug("preprocessed recording not kept; scratch copy is discarded")
		return nil
	}
	dst := job.Layout.PreprocessedDir()
	if err := os.RemoveAll(dst); err != nil {
		return services.Wrap(services.ErrConfiguration, stage.PersistPreprocessed, "reset", "remove "+dst, err)
	}
	stats, err := fileutil.CopyTree(job.RecordingDir(), dst)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stage.PersistPreprocessed, "copy", "save preprocessed recording", err)
	}
	logger.Info("preprocessed recording kept",
		logging.String("path", dst),
		logging.Int("files", stats.Files),
		logging.String("size", humanize.Bytes(uint64(stats.Bytes))),
	)
	return nil
}

type plotStage struct{ env *stageEnv }

func (s *plotStage) Name() string { return stage.Plot }

func (s *plotStage) Execute(ctx context.Context, job *stage.Job) error {
	params := bridge.PlotParams{
		SortingDir: job.Layout.SortingDir(),
		Title:      job.Layout.DisplayName,
		YLabel:     rasterYLabel,
		OutputPath: job.Layout.RasterPlotPath(),
	}
	if err := s.env.run(ctx, bridge.ActionPlotRaster, params, nil); err != nil {
		return err
	}
	s.env.log(ctx).Info("raster plot saved", logging.String("path", params.OutputPath))
	return nil
}

type waveformStage struct{ env *stageEnv }

func (s *waveformStage) Name() string { return stage.ExtractWaveforms }

func (s *waveformStage) Execute(ctx context.Context, job *stage.Job) error {
	if err := job.Layout.ResetWaveforms(); err != nil {
		return services.Wrap(services.ErrConfiguration, stage.ExtractWaveforms, "reset", "clear waveforms", err)
	}
	// Waveforms reference their recording by path. Only the kept copy outlives
	// the scratch directory; without it the saved waveforms are detached.
	recordingDir := job.RecordingDir()
	if s.env.cfg.Output.KeepPreprocessed {
		recordingDir = job.Layout.PreprocessedDir()
	}
	cfg := s.env.cfg.Waveforms
	params := bridge.WaveformParams{
		RecordingDir:     recordingDir,
		SortingDir:       job.Layout.SortingDir(),
		OutputDir:        job.Layout.WaveformsDir(),
		MsBefore:         cfg.MsBefore,
		MsAfter:          cfg.MsAfter,
		MaxSpikesPerUnit: cfg.MaxSpikesPerUnit,
		NJobs:            cfg.NJobs,
		TotalMemory:      cfg.TotalMemory,
	}
	var res bridge.WaveformResult
	if err := s.env.run(ctx, bridge.ActionExtractWaveforms, params, &res); err != nil {
		return err
	}
	if res.NumUnits == 0 {
		return services.Wrap(services.ErrNoUnits, stage.ExtractWaveforms, "extract", "no non-empty units", nil)
	}
	s.env.log(ctx).Info("waveforms extracted", logging.Int("units", res.NumUnits))
	return nil
}

type featureStage struct{ env *stageEnv }

func (s *featureStage) Name() string { return stage.ComputeFeatures }

func (s *featureStage) Execute(ctx context.Context, job *stage.Job) error {
	cfg := s.env.cfg.Features
	logger := s.env.log(ctx)
	if !cfg.ComputePCFeatures && !cfg.ComputeAmplitudes {
		logger.Info("feature computation disabled")
		return nil
	}
	params := bridge.FeatureParams{
		WaveformsDir:      job.Layout.WaveformsDir(),
		ComputePCFeatures: cfg.ComputePCFeatures,
		PCNComponents:     cfg.PCNComponents,
		PCMode:            cfg.PCMode,
		ComputeAmplitudes: cfg.ComputeAmplitudes,
		SpikeAmpPeakSign:  cfg.SpikeAmpPeakSign,
		NJobs:             s.env.cfg.Waveforms.NJobs,
	}
	if err := s.env.run(ctx, bridge.ActionComputeFeatures, params, nil); err != nil {
		return err
	}
	attrs := []logging.Attr{}
	if cfg.ComputePCFeatures {
		attrs = append(attrs,
			logging.Int("pc_n_components", cfg.PCNComponents),
			logging.String("pc_mode", cfg.PCMode))
	}
	if cfg.ComputeAmplitudes {
		attrs = append(attrs, logging.String("spike_amp_peak_sign", cfg.SpikeAmpPeakSign))
	}
	logger.Info("features computed", logging.Args(attrs...)...)
	return nil
}

type exportStage struct{ env *stageEnv }

func (s *exportStage) Name() string { return stage.Export }

func (s *exportStage) Execute(ctx context.Context, job *stage.Job) error {
	dst := job.ExportDir()
	if err := os.RemoveAll(dst); err != nil {
		return services.Wrap(services.ErrConfiguration, stage.Export, "reset", "remove "+dst, err)
	}
	cfg := s.env.cfg
	params := bridge.ExportParams{
		WaveformsDir:      job.Layout.WaveformsDir(),
		OutputDir:         dst,
		CopyBinary:        cfg.Export.CopyBinary,
		ComputePCFeatures: cfg.Features.ComputePCFeatures,
		ComputeAmplitudes: cfg.Features.ComputeAmplitudes,
		NJobs:             cfg.Waveforms.NJobs,
		TotalMemory:       cfg.Waveforms.TotalMemory,
	}
	if err := s.env.run(ctx, bridge.ActionExportPhy, params, nil); err != nil {
		return err
	}
	s.env.log(ctx).Info("phy export staged", logging.String("path", dst))
	return nil
}

type patchParamsStage struct{ env *stageEnv }

func (s *patchParamsStage) Name() string { return stage.PatchParams }

func (s *patchParamsStage) Execute(ctx context.Context, job *stage.Job) error {
	patched, err := bundle.PatchParams(job.ExportDir(), s.env.cfg.Export.DatPathLine)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stage.PatchParams, "rewrite", "patch params.py", err)
	}
	if !patched {
		logging.WarnWithContext(s.env.log(ctx), "params.py not found", "params_missing",
			logging.String("path", filepath.Join(job.ExportDir(), bundle.ParamsFile)),
			logging.String(logging.FieldErrorHint, "set dat_path in params.py by hand before opening Phy"),
			logging.String(logging.FieldImpact, "phy may not locate the recording binary"),
		)
	}
	return nil
}

type summarizeStage struct{ env *stageEnv }

func (s *summarizeStage) Name() string { return stage.Summarize }

func (s *summarizeStage) Execute(ctx context.Context, job *stage.Job) error {
	logger := s.env.log(ctx)
	summary, err := units.Summarize(job.ExportDir())
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNoUnits):
		return err
	default:
		logging.WarnWithContext(logger, "unit summary unavailable", "summary_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "manifest omits unit counts"),
		)
		return nil
	}
	job.Units = &summary
	logger.Info(fmt.Sprintf("%d units, %s spikes", summary.Count(), humanize.Comma(int64(summary.TotalSpikes))),
		logging.Int("units", summary.Count()),
		logging.Int("spikes", summary.TotalSpikes),
	)
	return nil
}

type markCompleteStage struct{ env *stageEnv }

func (s *markCompleteStage) Name() string { return stage.MarkComplete }

func (s *markCompleteStage) Execute(ctx context.Context, job *stage.Job) error {
	now := s.env.now()
	manifest := bundle.Manifest{
		RunID:      job.RunID,
		Recording:  job.Recording.Path,
		Bundle:     job.Layout.Name,
		StreamID:   job.Recording.StreamID,
		ProbeFile:  job.Probe.Path,
		Channels:   job.Channels,
		Sorter:     s.env.cfg.Sorter.Name,
		Device:     job.Device,
		Parameters: effectiveParameters(s.env.cfg, job.Device),
		Units:      job.Units,
		Stages:     job.Timings,
		StartedAt:  job.StartedAt,
		FinishedAt: now,
	}
	if err := job.Layout.WriteManifest(manifest); err != nil {
		return services.Wrap(services.ErrExternalTool, stage.MarkComplete, "manifest", "write manifest.yaml", err)
	}
	if err := job.Layout.PublishPhy(job.ExportDir()); err != nil {
		return services.Wrap(services.ErrExternalTool, stage.MarkComplete, "publish", "move phy export into bundle", err)
	}
	if err := job.Layout.WriteMarker(now); err != nil {
		return services.Wrap(services.ErrExternalTool, stage.MarkComplete, "marker", "write complete.txt", err)
	}
	s.env.log(ctx).Info("bundle marked complete", logging.String("path", job.Layout.MarkerPath()))
	return nil
}

// effectiveParameters records the settings a bundle was produced with.
func effectiveParameters(cfg *config.Config, device string) map[string]any {
	return map[string]any{
		"preprocessing": map[string]any{
			"freq_min":     cfg.Preprocessing.FreqMin,
			"freq_max":     cfg.Preprocessing.FreqMax,
			"notch_freq":   cfg.Preprocessing.NotchFreq,
			"notch_q":      cfg.Preprocessing.NotchQ,
			"whiten_dtype": cfg.Preprocessing.WhitenDtype,
		},
		"sorter": SorterParams(cfg, device),
		"waveforms": map[string]any{
			"ms_before":           cfg.Waveforms.MsBefore,
			"ms_after":            cfg.Waveforms.MsAfter,
			"max_spikes_per_unit": cfg.Waveforms.MaxSpikesPerUnit,
			"n_jobs":              cfg.Waveforms.NJobs,
			"total_memory":        cfg.Waveforms.TotalMemory,
		},
		"features": map[string]any{
			"compute_pc_features": cfg.Features.ComputePCFeatures,
			"pc_n_components":     cfg.Features.PCNComponents,
			"pc_mode":             cfg.Features.PCMode,
			"compute_amplitudes":  cfg.Features.ComputeAmplitudes,
			"spike_amp_peak_sign": cfg.Features.SpikeAmpPeakSign,
		},
		"export": map[string]any{
			"dat_path_line": cfg.Export.DatPathLine,
			"copy_binary":   cfg.Export.CopyBinary,
		},
	}
}
