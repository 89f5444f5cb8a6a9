package flock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/cradlevm/cradle/lock"
)

const retryDelay = 100 * time.Millisecond

// compile-time interface check.
var _ lock.TryLocker = (*Lock)(nil)

// Lock provides cross-process mutual exclusion using flock(2) via gofrs/flock.
// Locking an existing file (e.g. a VM's config.json) leaves its contents
// untouched; the lock lives on the open file description and is released by
// the kernel when the owning process exits.
type Lock struct {
	fl *flock.Flock
}

// New creates a new Lock for the given path.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// Path returns the locked file's path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Lock acquires an exclusive flock. Blocks until the lock is available
// or the context is cancelled.
func (l *Lock) Lock(ctx context.Context) error {
	locked, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("acquire flock %s: %w", l.fl.Path(), err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire flock %s: context done", l.fl.Path())
	}
	return nil
}

// TryLock attempts a single non-blocking acquire. Returns false when the
// lock is held elsewhere.
func (l *Lock) TryLock() (bool, error) {
	locked, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("try flock %s: %w", l.fl.Path(), err)
	}
	return locked, nil
}

// Unlock releases the flock.
func (l *Lock) Unlock(_ context.Context) error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release flock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// Held probes whether some process currently holds the lock, without keeping
// it: a successful acquire is immediately released.
func Held(path string) (bool, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe flock %s: %w", path, err)
	}
	if locked {
		_ = fl.Unlock()
		return false, nil
	}
	return true, nil
}

// ForceClear is a last-resort recovery for a lock left in an inconsistent
// state after an abrupt crash. It must never be called while a legitimately
// running owner holds the lock. In order:
//  1. attempt a plain unlock,
//  2. attempt acquire-then-release of a fresh lock,
//  3. copy the file's bytes aside, delete the original (which unconditionally
//     drops any lock held on that inode), and restore it from the backup.
func (l *Lock) ForceClear(ctx context.Context) error {
	path := l.fl.Path()
	_ = l.fl.Unlock()

	fresh := flock.New(path)
	if locked, err := fresh.TryLock(); err == nil && locked {
		return fresh.Unlock()
	}

	data, err := os.ReadFile(path) //nolint:gosec // caller-owned lock file
	if err != nil {
		return fmt.Errorf("read %s for lock recovery: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	return ctx.Err()
}
