package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"spikeflow/internal/bundle"
	"spikeflow/internal/config"
	"spikeflow/internal/ledger"
	"spikeflow/internal/logging"
	"spikeflow/internal/probe"
	"spikeflow/internal/recording"
	"spikeflow/internal/runlock"
	"spikeflow/internal/services"
	"spikeflow/internal/services/bridge"
	"spikeflow/internal/stage"
	"spikeflow/internal/stageexec"
	"spikeflow/internal/staging"
)

// Driver runs a batch of recordings.
type Driver struct {
	cfg     *config.Config
	toolkit bridge.Toolkit
	history History
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithHistory records runs and outcomes. History is advisory: write failures
// are logged and never affect the batch.
func WithHistory(h History) Option {
	return func(d *Driver) {
		d.history = h
	}
}

// WithLogger sets the driver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock replaces time.Now for marker and manifest timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a driver for cfg using toolkit for every external step.
func New(cfg *config.Config, toolkit bridge.Toolkit, opts ...Option) *Driver {
	d := &Driver{
		cfg:     cfg,
		toolkit: toolkit,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "pipeline")
	return d
}

// Run processes every selected recording. Configuration problems are returned
// before any recording is touched. Per-recording failures are reported in the
// returned Stats. When ctx is cancelled the batch stops and Run returns
// context.Canceled alongside the stats gathered so far.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	started := d.now()
	stats := Stats{RunID: uuid.NewString()}
	ctx = services.WithRunID(ctx, stats.RunID)
	logger := logging.WithContext(ctx, d.logger)
	cfg := d.cfg

	if cfg.Preprocessing.ResampleRate > 0 {
		logging.WarnWithContext(logger, "resampling is not applied", "resample_ignored",
			logging.Float64("resample_rate", cfg.Preprocessing.ResampleRate),
			logging.String(logging.FieldErrorHint, "remove preprocessing.resample_rate from the config"),
			logging.String(logging.FieldImpact, "recordings keep their native sampling rate"),
		)
	}

	discovered, err := recording.Discover(cfg.Paths.InputDir, cfg.Recording.Suffix, cfg.Recording.StreamID)
	if err != nil {
		return stats, err
	}
	selected, err := recording.Select(cfg.Paths.InputDir, discovered, recording.Selection{
		DisableBatch: cfg.Recording.DisableBatch,
		File:         cfg.Recording.File,
	}, cfg.Recording.StreamID)
	if err != nil {
		return stats, err
	}
	if len(selected) == 0 {
		logger.Info("no recording files found",
			logging.String("input_dir", cfg.Paths.InputDir),
			logging.String("suffix", cfg.Recording.Suffix),
		)
		return stats, nil
	}
	stats.Discovered = len(selected)
	logger.Info(fmt.Sprintf("Found %d recording file(s) to process.", len(selected)))

	probePath, err := cfg.ResolveProbeFile()
	if err != nil {
		return stats, services.Wrap(services.ErrConfiguration, "probe", "resolve", "locate probe file", err)
	}
	geometry, err := probe.Load(ctx, d.toolkit, probePath)
	if err != nil {
		return stats, err
	}
	width, height := geometry.Extent()
	logger.Info("probe loaded",
		logging.String("path", geometry.Path),
		logging.Int("channels", geometry.ChannelCount()),
		logging.Int("groups", geometry.GroupCount()),
		logging.String("extent", fmt.Sprintf("%.0f x %.0f", width, height)),
	)

	lock, err := runlock.Acquire(cfg.Paths.OutputDir)
	if err != nil {
		return stats, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release run lock", logging.String("path", lock.Path()), logging.Error(err))
		}
	}()

	procRoot := filepath.Join(cfg.Paths.OutputDir, bundle.ProcDir)
	maxAge := time.Duration(cfg.Output.StaleScratchHours) * time.Hour
	if cleaned := staging.CleanStale(ctx, procRoot, bundle.ScratchDir, maxAge, logger); len(cleaned.Removed) > 0 {
		logger.Info("stale scratch removed", logging.Int("count", len(cleaned.Removed)))
	}

	device, err := ResolveDevice(ctx, d.toolkit, cfg, logger)
	if err != nil {
		return stats, err
	}

	d.beginRun(ctx, logger, stats, started)

	env := &stageEnv{cfg: cfg, toolkit: d.toolkit, logger: d.logger, now: d.now}
	handlers := env.handlers()

	var runErr error
	for _, ref := range selected {
		if ctx.Err() != nil {
			runErr = context.Canceled
			break
		}
		outcome := d.processRecording(ctx, handlers, ref, geometry, device, stats.RunID)
		stats.add(outcome)
		d.record(ctx, logger, stats.RunID, outcome)
		if outcome.Status == ledger.StatusInterrupted {
			runErr = context.Canceled
			break
		}
	}
	stats.Elapsed = d.now().Sub(started)

	status := "finished"
	if runErr != nil {
		status = "interrupted"
		logger.Warn("interrupted",
			logging.String(logging.FieldEventType, "batch_interrupted"),
			logging.Int("remaining", stats.Discovered-len(stats.Outcomes)),
		)
	}
	d.finishRun(logger, stats, started, status)

	logger.Info("batch finished",
		logging.String(logging.FieldEventType, "batch_summary"),
		logging.String("summary", stats.Summary()),
		logging.Duration("elapsed", stats.Elapsed.Round(time.Second)),
	)
	return stats, runErr
}

func (d *Driver) processRecording(ctx context.Context, handlers []stage.Handler, ref recording.Ref, geometry *probe.Geometry, device, runID string) Outcome {
	layout := bundle.NewLayout(d.cfg.Paths.OutputDir, ref, d.cfg.Recording.BundleNaming)
	ctx = services.WithRecording(ctx, layout.Name)
	logger := logging.WithContext(ctx, d.logger)
	started := d.now()
	outcome := Outcome{Recording: ref.Path, Bundle: layout.Name}

	finish := func(status ledger.Status, err error) Outcome {
		outcome.Status = status
		outcome.Elapsed = d.now().Sub(started)
		if err != nil {
			outcome.Kind = string(services.KindOf(err))
			outcome.Message = err.Error()
		}
		return outcome
	}

	if layout.IsComplete() {
		attrs := []logging.Attr{logging.String("path", layout.Base)}
		if m, err := layout.ReadManifest(); err == nil && m.Units != nil {
			outcome.Units = m.Units.Count()
			outcome.Spikes = m.Units.TotalSpikes
			attrs = append(attrs, logging.Int("units", outcome.Units))
		}
		logger.Info(fmt.Sprintf("Skipping %s: output already exists or processing is complete.", layout.Name),
			append(logging.Args(attrs...), logging.String(logging.FieldEventType, "recording_skipped"))...)
		return finish(ledger.StatusSkipped, nil)
	}

	logger.Info("processing recording",
		logging.String(logging.FieldEventType, "recording_start"),
		logging.String("path", ref.Path),
		logging.String("bundle", layout.Base),
	)

	removed, err := layout.Prepare()
	if err != nil {
		err = services.Wrap(services.ErrConfiguration, "prepare", "bundle", "prepare output bundle", err)
		d.logFailure(logger, err)
		return finish(ledger.StatusFailed, err)
	}
	if removed {
		logger.Info("removed existing sorter output", logging.String("path", layout.SortingDir()))
	}

	scratch, err := staging.Acquire(layout.ScratchDir())
	if err != nil {
		err = services.Wrap(services.ErrConfiguration, "prepare", "scratch", "create scratch directory", err)
		d.logFailure(logger, err)
		return finish(ledger.StatusFailed, err)
	}
	defer scratch.Release(logger)

	job := &stage.Job{
		RunID:     runID,
		Recording: ref,
		Layout:    layout,
		Scratch:   scratch,
		Probe:     geometry,
		Device:    device,
		StartedAt: started,
	}

	for _, handler := range handlers {
		err := stageexec.Run(ctx, stageexec.Options{
			Logger:  d.logger,
			Handler: handler,
			Job:     job,
			Now:     d.now,
		})
		if err == nil {
			continue
		}
		switch services.KindOf(err) {
		case services.KindNoUnits:
			logger.Info(fmt.Sprintf("Skipping %s: no non-empty units", layout.Name),
				logging.String(logging.FieldEventType, "recording_no_units"),
				logging.String(logging.FieldStage, handler.Name()),
			)
			return finish(ledger.StatusNoUnits, err)
		case services.KindInterrupted:
			return finish(ledger.StatusInterrupted, err)
		default:
			d.logFailure(logger, err, logging.String(logging.FieldStage, handler.Name()))
			return finish(ledger.StatusFailed, err)
		}
	}

	if job.Units != nil {
		outcome.Units = job.Units.Count()
		outcome.Spikes = job.Units.TotalSpikes
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "recording_complete"),
		logging.Int("units", outcome.Units),
		logging.Duration("elapsed", d.now().Sub(started).Round(time.Second)),
	}
	if size, err := layout.Size(); err == nil {
		attrs = append(attrs, logging.String("bundle_size", humanize.Bytes(uint64(size))))
	}
	logger.Info("Finished processing "+layout.Name, logging.Args(attrs...)...)
	return finish(ledger.StatusDone, nil)
}

func (d *Driver) logFailure(logger *slog.Logger, err error, attrs ...logging.Attr) {
	attrs = append(attrs,
		logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, failureHint(err)),
		logging.String(logging.FieldImpact, "recording left incomplete; it is retried on the next run"),
	)
	logging.ErrorWithContext(logger, "Error processing recording", "recording_failed", attrs...)
}

func failureHint(err error) string {
	switch services.KindOf(err) {
	case services.KindConfiguration:
		return "check paths and permissions under the output directory"
	case services.KindValidation:
		return "check the recording file and stream id"
	default:
		return "see the toolkit output above for the underlying error"
	}
}

func (d *Driver) beginRun(ctx context.Context, logger *slog.Logger, stats Stats, started time.Time) {
	if d.history == nil {
		return
	}
	err := d.history.BeginRun(ctx, ledger.Run{
		ID:         stats.RunID,
		InputDir:   d.cfg.Paths.InputDir,
		OutputDir:  d.cfg.Paths.OutputDir,
		Sorter:     d.cfg.Sorter.Name,
		Discovered: stats.Discovered,
		StartedAt:  started,
	})
	if err != nil {
		d.historyFailed(logger, "begin run", err)
	}
}

func (d *Driver) record(ctx context.Context, logger *slog.Logger, runID string, o Outcome) {
	if d.history == nil {
		return
	}
	finished := d.now()
	// Cancellation must not drop the outcome of the interrupted recording.
	ctx = context.WithoutCancel(ctx)
	err := d.history.Record(ctx, ledger.Outcome{
		RunID:      runID,
		Recording:  o.Recording,
		Bundle:     o.Bundle,
		Status:     o.Status,
		ErrorKind:  o.Kind,
		Message:    truncate(o.Message, 2000),
		Units:      o.Units,
		Spikes:     o.Spikes,
		StartedAt:  finished.Add(-o.Elapsed),
		FinishedAt: finished,
	})
	if err != nil {
		d.historyFailed(logger, "record outcome", err)
	}
}

func (d *Driver) finishRun(logger *slog.Logger, stats Stats, started time.Time, status string) {
	if d.history == nil {
		return
	}
	err := d.history.FinishRun(context.Background(), ledger.Run{
		ID:         stats.RunID,
		Status:     status,
		Discovered: stats.Discovered,
		Done:       stats.Done,
		Skipped:    stats.Skipped + stats.NoUnits,
		Failed:     stats.Failed,
		StartedAt:  started,
		FinishedAt: d.now(),
	})
	if err != nil {
		d.historyFailed(logger, "finish run", err)
	}
}

func (d *Driver) historyFailed(logger *slog.Logger, op string, err error) {
	if errors.Is(err, context.Canceled) {
		logger.Debug("history write skipped after cancellation", logging.String("operation", op))
		return
	}
	logging.WarnWithContext(logger, "run history write failed", "history_write_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldImpact, "spikeflow history will be incomplete for this run"),
	)
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
