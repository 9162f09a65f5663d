package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RepoLock is the cross-process write lock guarding one repository's
// index data. The daemon's in-process readers-writer lock handles
// concurrency within a process; this file lock keeps a second daemon
// or CLI invocation from writing the same index.
type RepoLock struct {
	fl *flock.Flock
}

// NewRepoLock creates a lock handle at path. The lock is not acquired.
func NewRepoLock(path string) (*RepoLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return &RepoLock{fl: flock.New(path)}, nil
}

// TryLock attempts to acquire the exclusive lock without blocking.
// Returns false when another process holds it.
func (l *RepoLock) TryLock() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring index lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *RepoLock) Unlock() error {
	return l.fl.Unlock()
}
