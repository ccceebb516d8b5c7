//go:build !unix

package filelock

// processRunning has no portable liveness probe on this platform;
// assume the holder is still alive so IsStale never reports a lock
// stale that it cannot actually confirm is abandoned.
func processRunning(pid int) bool {
	return true
}
