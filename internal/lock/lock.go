// Package lock implements the single-instance guard of §4.5: an
// exclusive, non-blocking OS-level file lock gating pipeline entry.
package lock

import (
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	crawlererrors "github.com/phenodcc/crawler/internal/errors"
)

// Outcome enumerates the three results of attempting to acquire the
// instance lock.
type Outcome int

const (
	// NotRunning means the lock was acquired and the caller may proceed.
	NotRunning Outcome = iota
	// AlreadyRunning means another process holds the lock; exit without
	// running.
	AlreadyRunning
	// InvalidLock means the lock path exists but is not a regular file;
	// operator action is required.
	InvalidLock
)

// DefaultPath is the lock file used when none is configured.
const DefaultPath = "phenodcc.lock"

// Lock wraps a flock.Flock for the pipeline's single-instance guard.
type Lock struct {
	path string
	fl   *flock.Flock
}

// Acquire attempts to take the exclusive, non-blocking lock at path. It
// never blocks: if the lock is already held, it returns (AlreadyRunning,
// nil, nil) immediately.
func Acquire(path string) (Outcome, *Lock, error) {
	if path == "" {
		path = DefaultPath
	}

	if info, err := os.Stat(path); err == nil && !info.Mode().IsRegular() {
		return InvalidLock, nil, crawlererrors.NewNonRetryableError(
			fmt.Sprintf("lock path %q exists and is not a regular file", path), crawlererrors.ErrLockCorrupt)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return InvalidLock, nil, fmt.Errorf("failed to acquire lock %q: %w", path, err)
	}
	if !locked {
		return AlreadyRunning, nil, nil
	}

	return NotRunning, &Lock{path: path, fl: fl}, nil
}

// Release unlocks and deletes the lock file on clean shutdown. An
// unclean exit simply leaves the file behind; the OS releases the
// underlying lock and the next run re-acquires cleanly (§4.5).
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %q: %w", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file %q: %w", l.path, err)
	}
	return nil
}
