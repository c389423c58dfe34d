package store

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/franz/ordb/internal/util"
)

// Lock is an advisory lock guarding a state database against concurrent runs
type Lock struct {
	fl *flock.Flock
}

// LockPath returns the lock file used for a database path
func LockPath(dbPath string) string {
	return dbPath + ".lock"
}

// AcquireLock takes the advisory lock for dbPath without blocking.
// Returns util.ErrLocked if another process holds it.
func AcquireLock(dbPath string) (*Lock, error) {
	fl := flock.New(LockPath(dbPath))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", util.ErrLocked, LockPath(dbPath))
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
