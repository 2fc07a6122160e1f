// Package runlock keeps two batches from writing into the same output root.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"spikeflow/internal/services"
)

// FileName is the lock file created in the output root.
const FileName = ".spikeflow.lock"

// Lock is a held output-root lock.
type Lock struct {
	path string
	lock *flock.Flock
}

// Acquire takes the lock for outputRoot without blocking. A lock held by
// another process is reported as a configuration error.
func Acquire(outputRoot string) (*Lock, error) {
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "runlock", "prepare", "create output directory", err)
	}
	path := filepath.Join(outputRoot, FileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "runlock", "acquire", "lock "+path, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "runlock", "acquire",
			fmt.Sprintf("another spikeflow run is using %s", outputRoot), nil)
	}
	return &Lock{path: path, lock: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks. The lock file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
