// Package lockfile keeps two PortfolioChat servers from sharing one state
// directory. The lock is an flock on a file in the directory, so the kernel
// releases it when the process exits, gracefully or not.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "portfoliochat.lock"

// Info is the holder description written into the lock file.
type Info struct {
	PID     int
	Addr    string
	Started time.Time
}

func (i Info) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", i.PID)
	if i.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", i.Addr)
	}
	fmt.Fprintf(&b, "started=%s\n", i.Started.UTC().Format(time.RFC3339))
	return b.String()
}

// parseInfo reads key=value lines; unknown keys and malformed values are ignored.
func parseInfo(content string) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				info.PID = pid
			}
		case "addr":
			info.Addr = value
		case "started":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				info.Started = ts
			}
		}
	}
	return info
}

// Lock represents an active directory lock.
type Lock struct {
	file *os.File
	path string
	info Info
}

// AcquireLock takes an exclusive lock on stateDir, creating it if needed.
// addr is recorded so a conflicting server can be identified. If another
// process holds the lock a *LockError describes it.
func AcquireLock(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	// O_TRUNC would wipe the holder's info before we know we own the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Holder: describeHolder(lockPath), Cause: err}
		slog.Error("Lockfile.AcquireLock: state directory in use", "lock_path", lockPath, "holder", lockErr.Holder)
		return nil, lockErr
	}

	info := Info{PID: os.Getpid(), Addr: addr, Started: time.Now()}
	if err := file.Truncate(0); err == nil {
		_, err = file.WriteAt([]byte(info.encode()), 0)
	}
	if err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile.AcquireLock: failed to sync lock file", "error", err, "lock_path", lockPath)
	}

	slog.Info("Lockfile.AcquireLock: acquired state directory lock", "lock_path", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath, info: info}, nil
}

// Info returns what this process wrote into the lock file.
func (l *Lock) Info() Info {
	return l.info
}

// Release releases the lock and removes the lock file. It is safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a new holder never loses its fresh file.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lockfile.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil

	slog.Info("Lockfile.Release: released state directory lock", "lock_path", l.path)
	return err
}

// LockError is returned when another process holds the state directory.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another PortfolioChat server is already using this state directory (lock file %s)", e.LockPath)
	if e.Holder != "" {
		msg += "; holder: " + e.Holder
	}
	return msg + ". If no other server is running the lock is stale and the file can be removed."
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder summarizes the lock file of the current holder.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	info := parseInfo(string(data))
	if info.PID == 0 {
		return "lock file contains no process information"
	}

	state := "not running, stale lock"
	if isProcessRunning(info.PID) {
		state = "running"
	}
	desc := fmt.Sprintf("PID %d (%s)", info.PID, state)
	if info.Addr != "" {
		desc += " serving " + info.Addr
	}
	if !info.Started.IsZero() {
		desc += " since " + info.Started.Format(time.RFC3339)
	}
	return desc
}

// isProcessRunning sends signal 0, which checks for the process without
// delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
