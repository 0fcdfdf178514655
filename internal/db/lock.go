package db

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/hpungsan/stash/internal/errors"
)

// LockFileName is the writer lock inside the base directory.
const LockFileName = "stash.lock"

// AcquireWriterLock takes the exclusive single-writer lock for baseDir.
// It does not block: a lock held by another process is a CONFLICT.
// Callers release it with Unlock.
func AcquireWriterLock(baseDir string) (*flock.Flock, error) {
	lockPath := filepath.Join(baseDir, LockFileName)
	lock := flock.New(lockPath)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("acquire writer lock: %w", err))
	}
	if !ok {
		return nil, errors.NewConflict(fmt.Sprintf("another stash process holds the writer lock (%s)", lockPath))
	}
	return lock, nil
}
