// Package lock keeps two loader processes from running against the same data
// directory at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created inside the data directory.
const FileName = "whload.lock"

// ErrHeld is returned by Acquire when a live process owns the lock.
var ErrHeld = errors.New("lock held by another run")

// Lock is a PID file lock.
type Lock struct {
	path string
}

// New returns a lock stored at dir/FileName.
func New(dir string) *Lock {
	return &Lock{path: filepath.Join(dir, FileName)}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire writes the current PID to the lock file. A file left behind by a
// process that is no longer running is taken over.
func (l *Lock) Acquire() error {
	if held, pid, err := l.IsHeld(); err != nil {
		return err
	} else if held {
		return fmt.Errorf("%w (PID %d)", ErrHeld, pid)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsHeld reports whether the lock file names a running process.
func (l *Lock) IsHeld() (bool, int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading lock file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, nil
	}
	return isProcessRunning(pid), pid, nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
