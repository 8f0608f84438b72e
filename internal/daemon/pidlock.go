package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning reports that another live daemon holds the lock.
var ErrAlreadyRunning = errors.New("daemon: already running")

// PIDLock is the on-disk singleton guard. Creation is atomic via
// O_CREATE|O_EXCL, so two daemons racing for the same root cannot both
// win.
type PIDLock struct {
	path string
	pid  int
}

// AcquirePIDLock takes the lock at path for the current process. A lock
// file naming a dead process is treated as stale and replaced. A lock
// naming a live process returns ErrAlreadyRunning wrapped with the PID.
func AcquirePIDLock(path string) (*PIDLock, error) {
	return acquirePIDLock(path, os.Getpid(), processAlive)
}

func acquirePIDLock(path string, pid int, alive func(int) bool) (*PIDLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create lock dir: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if _, werr := fmt.Fprintf(f, "%d\n", pid); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("daemon: write pid file: %w", werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("daemon: close pid file: %w", cerr)
			}
			return &PIDLock{path: path, pid: pid}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("daemon: create pid file: %w", err)
		}

		holder, rerr := readPID(path)
		if rerr == nil && alive(holder) {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, holder)
		}
		// Stale or unreadable lock: clear it and retry the exclusive
		// create once. Losing the retry means a live daemon beat us.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("daemon: remove stale pid file: %w", rmErr)
		}
	}
	return nil, ErrAlreadyRunning
}

// Release removes the lock file. Safe to call once on clean shutdown.
func (l *PIDLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: release pid lock: %w", err)
	}
	return nil
}

// PID returns the recorded process ID.
func (l *PIDLock) PID() int { return l.pid }

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive probes liveness with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
