// Package locks guards a run directory with an advisory flock so that two
// coordinators never write results into the same dump path.
package locks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FileName is the lock file created inside a run directory.
const FileName = "run.lock"

// ErrLocked is returned when another live process holds the run directory.
var ErrLocked = errors.New("run directory is locked")

// RunLock is an exclusive hold on one run directory.
type RunLock struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// Acquire takes the lock on dir without blocking. The lock file records the
// holder's run id, pid and start time.
func Acquire(dir, runID string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		holder, _ := Holder(dir)
		if holder != "" {
			return nil, fmt.Errorf("%w by %s", ErrLocked, holder)
		}
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}

	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%s %d %s\n", runID, os.Getpid(), time.Now().Format(time.RFC3339))
	return &RunLock{path: path, f: f}, nil
}

// Path returns the lock file path.
func (l *RunLock) Path() string { return l.path }

// Release drops the lock and removes the lock file. It is safe to call twice.
func (l *RunLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
	os.Remove(l.path)
	l.f = nil
}

// Holder returns the metadata line written by the current or last holder.
func Holder(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// CleanStale removes a lock file whose holder process is no longer alive.
// It reports whether a file was removed.
func CleanStale(dir string) (bool, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	// Lock acquired means nobody holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return false, nil
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("remove stale lock: %w", err)
	}
	return true, nil
}
