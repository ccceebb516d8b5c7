//go:build unix

package filelock

import "golang.org/x/sys/unix"

// processRunning checks liveness by sending the null signal, the
// standard POSIX way to probe a PID without actually signaling it.
// Grounded on internal/lockfile/process_unix.go's null-signal probe.
func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
