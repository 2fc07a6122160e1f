package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the terminal state of one recording within a run.
type Status string

const (
	StatusDone        Status = "done"
	StatusSkipped     Status = "skipped"
	StatusNoUnits     Status = "no_units"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Run describes one batch invocation.
type Run struct {
	ID         string
	InputDir   string
	OutputDir  string
	Sorter     string
	Status     string
	Discovered int
	Done       int
	Skipped    int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome records what happened to one recording.
type Outcome struct {
	RunID      string
	Recording  string
	Bundle     string
	Status     Status
	ErrorKind  string
	Message    string
	Units      int
	Spikes     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall-clock time spent on the recording.
func (o Outcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// BeginRun inserts a run row in the running state.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id required")
	}
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	err := s.exec(ctx,
		`INSERT INTO runs (id, input_dir, output_dir, sorter, status, discovered, started_at)
		 VALUES (?, ?, ?, ?, 'running', ?, ?)`,
		run.ID, run.InputDir, run.OutputDir, run.Sorter, run.Discovered, formatTime(started),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Record appends a recording outcome to a run.
func (s *Store) Record(ctx context.Context, o Outcome) error {
	if o.RunID == "" {
		return errors.New("outcome run id required")
	}
	finished := o.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	started := o.StartedAt
	if started.IsZero() {
		started = finished
	}
	err := s.exec(ctx,
		`INSERT INTO outcomes (run_id, recording, bundle, status, error_kind, message, units, spikes, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Recording, o.Bundle, string(o.Status), o.ErrorKind, o.Message, o.Units, o.Spikes,
		formatTime(started), formatTime(finished),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// FinishRun stores final counters and status for a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	status := run.Status
	if status == "" {
		status = "finished"
	}
	err := s.exec(ctx,
		`UPDATE runs SET status = ?, discovered = ?, done = ?, skipped = ?, failed = ?, finished_at = ?
		 WHERE id = ?`,
		status, run.Discovered, run.Done, run.Skipped, run.Failed, formatTime(finished), run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun returns a run by id, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input_dir, output_dir, sorter, status, discovered, done, skipped, failed, started_at, COALESCE(finished_at, '')
		 FROM runs WHERE id = ?`, id)
	var (
		run               Run
		started, finished string
	)
	if err := row.Scan(&run.ID, &run.InputDir, &run.OutputDir, &run.Sorter, &run.Status,
		&run.Discovered, &run.Done, &run.Skipped, &run.Failed, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return &run, nil
}

// Recent returns the most recent outcomes, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Outcome, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, recording, bundle, status, error_kind, message, units, spikes, started_at, finished_at
		 FROM outcomes ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var (
			o                 Outcome
			status            string
			started, finished string
		)
		if err := rows.Scan(&o.RunID, &o.Recording, &o.Bundle, &status, &o.ErrorKind, &o.Message,
			&o.Units, &o.Spikes, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = Status(status)
		o.StartedAt = parseTime(started)
		o.FinishedAt = parseTime(finished)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// timeLayout is fixed width so text ordering in SQL matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
