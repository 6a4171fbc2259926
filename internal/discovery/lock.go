package discovery

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/codescope/codescope/internal/errors"
)

// RebuildLock is a cross-process exclusive lock over one index directory,
// held for the duration of a rebuild so a concurrent reader never opens a
// database mid-rewrite and two rebuilds never race each other.
type RebuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRebuildLock returns a lock for the index directory dir. The lock
// file itself lives at <dir>/.rebuild.lock, a sibling of current.db.
func NewRebuildLock(dir string) *RebuildLock {
	path := filepath.Join(dir, ".rebuild.lock")
	return &RebuildLock{path: path, flock: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking, reporting false
// rather than erroring when another process already holds it.
func (l *RebuildLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, errors.Wrap(errors.KindStorageFailure, "create index directory for lock", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, errors.Wrap(errors.KindStorageFailure, "acquire rebuild lock", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked lock.
func (l *RebuildLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return errors.Wrap(errors.KindStorageFailure, "release rebuild lock", err)
	}
	l.locked = false
	return nil
}
