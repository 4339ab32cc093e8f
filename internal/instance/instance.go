// Package instance enforces a single running updater per user through a
// PID-stamped lock file.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"

	uerrors "github.com/adamancini/appupdater/internal/errors"
	"github.com/adamancini/appupdater/internal/logging"
)

// ErrAlreadyRunning is returned by Acquire when a live updater holds the lock.
var ErrAlreadyRunning = errors.New("updater already running")

// LockRecord describes a held lock.
type LockRecord struct {
	PID  int
	Path string
}

// ProbeFunc reports whether a process with the given PID exists. It must
// never signal the process.
type ProbeFunc func(pid int) (bool, error)

// Guard owns the lock file at a fixed path.
type Guard struct {
	path   string
	pid    int
	probe  ProbeFunc
	logger *log.Entry
	held   bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithProbe replaces the process liveness probe.
func WithProbe(p ProbeFunc) Option {
	return func(g *Guard) {
		g.probe = p
	}
}

// WithPID sets the PID written to the lock. Defaults to os.Getpid().
func WithPID(pid int) Option {
	return func(g *Guard) {
		g.pid = pid
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Entry) Option {
	return func(g *Guard) {
		g.logger = l
	}
}

// NewGuard creates a guard for the lock file at path.
func NewGuard(path string, opts ...Option) *Guard {
	g := &Guard{
		path:   path,
		pid:    os.Getpid(),
		probe:  pidExists,
		logger: logging.Component("instance"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func pidExists(pid int) (bool, error) {
	return process.PidExists(int32(pid))
}

// Path returns the lock file path.
func (g *Guard) Path() string {
	return g.path
}

// Acquire takes the lock. A lock held by a live process yields
// ErrAlreadyRunning; a stale or corrupt lock is removed first. Failure to
// write the lock returns a lock error.
func (g *Guard) Acquire() (LockRecord, error) {
	if pid, ok := g.readPID(); ok {
		alive, err := g.probe(pid)
		if err != nil {
			g.logger.Warnf("Could not probe pid %d: %v", pid, err)
		}
		if alive {
			return LockRecord{}, fmt.Errorf("%w (pid %d, lock %s)", ErrAlreadyRunning, pid, g.path)
		}
		g.logger.Infof("Removing stale lock left by pid %d", pid)
	}

	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return LockRecord{}, uerrors.WithPath(uerrors.KindLock, "remove stale lock", g.path, err)
	}

	if err := writeAtomic(g.path, []byte(strconv.Itoa(g.pid))); err != nil {
		return LockRecord{}, uerrors.WithPath(uerrors.KindLock, "write lock", g.path, err)
	}

	g.held = true
	g.logger.Debugf("Lock acquired at %s", g.path)
	return LockRecord{PID: g.pid, Path: g.path}, nil
}

// readPID returns the PID recorded in the lock file. ok is false when the
// file is absent, unreadable or corrupt. PIDs outside 1..MaxInt32 count as
// corrupt.
func (g *Guard) readPID() (int, bool) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if !os.IsNotExist(err) {
			g.logger.Warnf("Unreadable lock %s: %v", g.path, err)
		}
		return 0, false
	}

	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || pid <= 0 {
		g.logger.Warnf("Corrupt lock %s: %q", g.path, data)
		return 0, false
	}
	return int(pid), true
}

// Release removes the lock file. Errors are logged only.
func (g *Guard) Release() {
	if !g.held {
		return
	}
	g.held = false

	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		g.logger.Warnf("Failed to remove lock %s: %v", g.path, err)
		return
	}
	g.logger.Debugf("Lock released at %s", g.path)
}

// writeAtomic writes to a temporary file beside path and renames it over path.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
