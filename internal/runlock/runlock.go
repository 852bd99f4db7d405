package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileName is the lock file created in the guarded directory
const FileName = ".vpkpipe.lock"

// ErrLocked is returned when another run holds the lock
var ErrLocked = errors.New("another vpkpipe run is already working in this directory")

// Lock guards a directory against concurrent runs
type Lock struct {
	path string
	lock *flock.Flock
}

// Acquire takes the lock for dir without blocking
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Lock{path: path, lock: l}, nil
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file
func (l *Lock) Release() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
