// Package staging manages the per-recording scratch directory and removes
// scratch left behind by killed runs.
package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"spikeflow/internal/logging"
)

// Scratch is a directory that exists only while one recording is processed.
type Scratch struct {
	path     string
	released bool
}

// Acquire creates a fresh scratch directory at path, removing any leftover
// contents first. Callers must defer Release.
func Acquire(path string) (*Scratch, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("clear scratch directory: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return &Scratch{path: path}, nil
}

// Path returns the scratch directory.
func (s *Scratch) Path() string { return s.path }

// Join returns a path inside the scratch directory.
func (s *Scratch) Join(elem ...string) string {
	return filepath.Join(append([]string{s.path}, elem...)...)
}

// Release removes the scratch directory. Removal failure is logged, never
// returned, so it cannot mask the error that ended the recording. Calling
// Release twice is a no-op.
func (s *Scratch) Release(logger *slog.Logger) {
	if s == nil || s.released {
		return
	}
	s.released = true
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(logger, "failed to remove scratch directory", "scratch_cleanup_failed",
			logging.String("path", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory manually or rerun to trigger stale cleanup"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
		return
	}
	if logger != nil {
		logger.Debug("scratch directory removed", logging.String("path", s.path))
	}
}
