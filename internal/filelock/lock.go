// Package filelock implements a cooperative, cross-process advisory
// lock based on exclusive file creation. Unlike an OS
// flock/fcntl advisory lock, ownership is determined by content
// identity — the file's bytes are compared against this holder's own
// blob — so two Lock values that happen to share a uid observe each
// other as the same logical owner. Exact acquire/release/blob
// semantics are grounded on original_source/encore/storage/file_lock.py;
// the per-OS liveness check behind the IsStale diagnostic follows the
// same null-signal approach as internal/lockfile/process_unix.go.
// ForceBreak, and the force-break timeout in Acquire/Wait, do not
// consult it.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/scoped"
)

const openMode = os.O_CREATE | os.O_EXCL | os.O_RDWR

// Lock is a single holder's view of a target lock path. The same path
// may be locked by many Lock values across processes (and within one
// process, across goroutines); Acquired reports whether this
// particular value currently owns it.
type Lock struct {
	path         string
	pollInterval time.Duration
	timeout      time.Duration
	forceTimeout time.Duration
	blob         string
}

// Option configures a Lock at construction.
type Option func(*Lock)

// WithPollInterval sets how often Acquire/Wait re-check an existing
// lock file. Default 10ms, mirroring the original's 1e-2s default.
func WithPollInterval(d time.Duration) Option {
	return func(l *Lock) { l.pollInterval = d }
}

// WithTimeout bounds how long Acquire/Wait will keep retrying before
// giving up. Zero (the default) waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(l *Lock) { l.timeout = d }
}

// WithForceTimeout causes Acquire/Wait to force-break an existing lock
// file once that call has been waiting longer than d. Zero (the
// default) never force-breaks.
func WithForceTimeout(d time.Duration) Option {
	return func(l *Lock) { l.forceTimeout = d }
}

// WithUID overrides the identifier embedded in the check blob. Two Lock
// values constructed with the same uid (e.g. the same owning store
// instance) are treated as the same logical holder; Lock values with
// distinct uids never are, even on the same host and path. Default is
// a freshly generated uuid, standing in for the original's
// "id(self) if uid is None" default — a Go value's address is not a
// stable enough identity to reuse here since the garbage collector may
// move it.
func WithUID(uid string) Option {
	return func(l *Lock) { l.blob = checkBlob(uid) }
}

// New builds a Lock over the file at path (the lock file itself; unlike
// the original this package does not append ".lock" — callers name
// their own path).
func New(path string, opts ...Option) *Lock {
	l := &Lock{
		path:         path,
		pollInterval: 10 * time.Millisecond,
	}
	l.blob = checkBlob(uuid.NewString())
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func checkBlob(uid string) string {
	host, _ := os.Hostname()
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return fmt.Sprintf("%s\n%d\n%s\n%s\nLOCK", host, os.Getpid(), username, uid)
}

// Acquire attempts to create the lock file, retrying at pollInterval
// until it succeeds, the soft timeout elapses (returns false, nil), or
// the force-break timeout elapses (the file is removed and creation is
// retried). Callers that need to distinguish "gave up" from an I/O
// error should check the returned error.
func (l *Lock) Acquire() (bool, error) {
	start := time.Now()
	for {
		ok, err := l.tryCreate()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		elapsed := time.Since(start)
		if l.timeout > 0 && elapsed > l.timeout {
			return false, nil
		}
		if l.forceTimeout > 0 && elapsed > l.forceTimeout {
			l.ForceBreak()
			continue
		}
		time.Sleep(l.pollInterval)
	}
}

// tryCreate makes one O_CREATE|O_EXCL attempt, returning (true, nil) on
// success, (false, nil) if the file already exists, or (false, err) for
// any other failure.
func (l *Lock) tryCreate() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, err
	}
	f, err := os.OpenFile(l.path, openMode, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := f.WriteString(l.blob); err != nil {
		return false, err
	}
	return true, nil
}

// Release removes the lock file if and only if it still carries this
// Lock's own blob. Returns errs.ErrNotOwner if the file is missing or
// owned by someone else.
func (l *Lock) Release() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return errs.NotOwner(l.path)
	}
	if string(data) != l.blob {
		return errs.NotOwner(l.path)
	}
	if err := os.Remove(l.path); err != nil {
		return errs.NotOwner(l.path)
	}
	return nil
}

// Locked reports whether the lock file exists, regardless of owner.
func (l *Lock) Locked() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Acquired reports whether the lock file exists and carries this
// Lock's own blob.
func (l *Lock) Acquired() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	return string(data) == l.blob
}

// ForceBreak unconditionally removes the lock file, ignoring a missing
// file.
func (l *Lock) ForceBreak() bool {
	err := os.Remove(l.path)
	return err == nil || errors.Is(err, os.ErrNotExist)
}

// Wait blocks until the lock file no longer exists, returning false if
// the soft timeout elapses first. While waiting it applies the same
// force-break timeout as Acquire.
func (l *Lock) Wait() bool {
	start := time.Now()
	for {
		if !l.Locked() {
			return true
		}
		elapsed := time.Since(start)
		if l.timeout > 0 && elapsed > l.timeout {
			return false
		}
		if l.forceTimeout > 0 && elapsed > l.forceTimeout {
			l.ForceBreak()
		}
		time.Sleep(l.pollInterval)
	}
}

// With acquires the lock, runs fn, and releases it afterward regardless
// of whether fn panics or returns an error. If Acquire fails or times out, fn is not run.
func (l *Lock) With(fn func() error) error {
	return scoped.With(
		func() (struct{}, error) {
			ok, err := l.Acquire()
			if err != nil {
				return struct{}{}, err
			}
			if !ok {
				return struct{}{}, errs.TimedOut("file lock acquire")
			}
			return struct{}{}, nil
		},
		func(struct{}) error { return l.Release() },
		func(struct{}) error { return fn() },
	)
}

// HolderPID parses the pid field out of a lock file's blob, for
// diagnostics (e.g. "is the holder process still alive" — see
// IsStale). Returns false if the file is missing or not in the
// expected check-blob shape.
func HolderPID(path string) (int, bool) {
	_, pid, ok := parseBlob(path)
	return pid, ok
}

func parseBlob(path string) (host string, pid int, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, false
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) < 5 || lines[4] != "LOCK" {
		return "", 0, false
	}
	pid, err = strconv.Atoi(lines[1])
	if err != nil {
		return "", 0, false
	}
	return lines[0], pid, true
}

// IsStale reports whether path's lock blob was written by this host and
// names a PID that (per the platform-specific liveness check) is no
// longer running. It is conservative: if the PID can't be parsed or was
// written on a different host, it returns false — never claims a lock
// is stale that it cannot actually confirm, since force-breaking a live
// holder's lock would violate mutual exclusion.
func IsStale(path string) bool {
	host, pid, ok := parseBlob(path)
	if !ok {
		return false
	}
	if self, err := os.Hostname(); err != nil || self != host {
		return false
	}
	return !processRunning(pid)
}
