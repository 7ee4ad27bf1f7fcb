// Package filelock provides advisory flock(2) locks so only one process
// appends to a ledger file at a time.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileLock is an exclusive lock on path + ".lock".
type FileLock struct {
	path string
	file *os.File
}

// New creates a lock for the given file. Nothing is acquired yet.
func New(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string { return fl.path }

func (fl *FileLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	return f, nil
}

// TryLock attempts to acquire the lock without blocking. It returns false
// when another holder has it.
func (fl *FileLock) TryLock() (bool, error) {
	if fl.file != nil {
		return true, nil
	}
	f, err := fl.open()
	if err != nil {
		return false, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	fl.file = f
	return true, nil
}

// Lock polls TryLock until it succeeds or ctx ends.
func (fl *FileLock) Lock(ctx context.Context) error {
	retry := 10 * time.Millisecond
	for {
		acquired, err := fl.TryLock()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for lock on %s: %w", fl.path, ctx.Err())
		case <-time.After(retry):
		}
		if retry < 100*time.Millisecond {
			retry *= 2
		}
	}
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	closeErr := fl.file.Close()
	fl.file = nil

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close lock file: %w", closeErr)
	}
	return nil
}

// WithLock runs fn while holding the lock.
func (fl *FileLock) WithLock(ctx context.Context, fn func() error) error {
	if err := fl.Lock(ctx); err != nil {
		return err
	}
	defer fl.Unlock()
	return fn()
}
