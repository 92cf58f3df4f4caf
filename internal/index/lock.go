package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// PassLockFile is the name of the cross-process pass lock in the data dir.
const PassLockFile = "pass.lock"

// PassLock serialises indexing passes across processes sharing a data dir.
// Two processes draining the same queue would otherwise interleave dedup.
type PassLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewPassLock creates the lock at <dataDir>/pass.lock.
func NewPassLock(dataDir string) *PassLock {
	lockPath := filepath.Join(dataDir, PassLockFile)
	return &PassLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock blocks until the lock is acquired.
func (l *PassLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without blocking. It returns false if another
// process holds it.
func (l *PassLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Unlocking an unlocked PassLock is a no-op.
func (l *PassLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *PassLock) Path() string   { return l.path }
func (l *PassLock) IsLocked() bool { return l.locked }
