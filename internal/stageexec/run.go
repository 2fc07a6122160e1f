// Package stageexec runs a single stage with consistent logging and timing.
package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"spikeflow/internal/bundle"
	"spikeflow/internal/logging"
	"spikeflow/internal/services"
	"spikeflow/internal/stage"
)

// Options controls one stage execution.
type Options struct {
	Logger  *slog.Logger
	Handler stage.Handler
	Job     *stage.Job
	// Now defaults to time.Now.
	Now func() time.Time
}

// Run executes a stage, stamps the context with the stage name and a fresh
// correlation ID, and appends the stage timing to the job.
func Run(ctx context.Context, opts Options) error {
	if opts.Handler == nil {
		return fmt.Errorf("stage handler unavailable")
	}
	if opts.Job == nil {
		return fmt.Errorf("stage job is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	name := opts.Handler.Name()
	stageCtx := services.WithStage(ctx, name)
	stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
	stageLogger := logging.WithContext(stageCtx, opts.Logger)

	stageLogger.Info(
		stage.Label(name)+" started",
		logging.String(logging.FieldEventType, "stage_start"),
	)

	started := now()
	err := opts.Handler.Execute(stageCtx, opts.Job)
	elapsed := now().Sub(started)
	opts.Job.Timings = append(opts.Job.Timings, bundle.StageTiming{Name: name, Seconds: elapsed.Seconds()})

	if err != nil {
		level := slog.LevelError
		event := "stage_failure"
		switch services.KindOf(err) {
		case services.KindNoUnits:
			level, event = slog.LevelInfo, "stage_no_units"
		case services.KindInterrupted:
			level, event = slog.LevelWarn, "stage_interrupted"
		}
		stageLogger.Log(stageCtx, level,
			stage.Label(name)+" failed",
			logging.String(logging.FieldEventType, event),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.Duration("elapsed", elapsed.Round(time.Millisecond)),
			logging.Error(err),
		)
		return err
	}

	stageLogger.Info(
		stage.Label(name)+" completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", elapsed.Round(time.Millisecond)),
	)
	return nil
}
