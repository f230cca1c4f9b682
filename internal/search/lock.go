package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockFilename is the name of the data directory lock file
const LockFilename = "engine.lock"

var (
	// ErrLockTimeout indicates the data directory stayed locked past the timeout
	ErrLockTimeout = errors.New("data directory is in use by another process")
)

// DirLock is an exclusive flock(2) on a file inside the data directory.
// Only one engine may use a data directory at a time; the kernel releases
// the lock when the holder exits.
type DirLock struct {
	path string
	file *os.File
}

// NewDirLock creates a lock on the given file path.
func NewDirLock(path string) *DirLock {
	return &DirLock{path: path}
}

// Acquire blocks until the lock is held, the timeout expires or ctx is done.
func (l *DirLock) Acquire(ctx context.Context, timeout time.Duration) error {
	if l.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	pollInterval := 10 * time.Millisecond
	maxPollInterval := 500 * time.Millisecond

	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.file = file
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			_ = file.Close()
			return fmt.Errorf("flock failed: %w", err)
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			_ = file.Close()
			return ctx.Err()
		case <-time.After(pollInterval):
			pollInterval = min(pollInterval*2, maxPollInterval)
		}
	}
}

// Release releases the lock. Releasing an unheld lock is a no-op.
func (l *DirLock) Release() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close failed: %w", closeErr)
	}
	return nil
}

// Held reports whether this instance holds the lock.
func (l *DirLock) Held() bool {
	return l.file != nil
}
