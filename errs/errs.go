// Package errs defines the error taxonomy shared by every corestash
// subsystem: event bus, worker pool, scheduler family, file lock, and
// store backends. Callers distinguish kinds with errors.Is against the
// sentinel values, and unwrap to the underlying cause with errors.As /
// errors.Unwrap.
package errs

import "errors"

// Sentinel kinds. Concrete errors returned by the package wrap one of
// these with additional context via fmt.Errorf("...: %w", ErrX).
var (
	// ErrKeyMissing indicates a requested key is not present in a store.
	ErrKeyMissing = errors.New("corestash: key missing")

	// ErrAlreadyShutDown indicates an operation on a scheduler or worker
	// pool after Shutdown was called.
	ErrAlreadyShutDown = errors.New("corestash: already shut down")

	// ErrInvalidStore indicates an on-disk store layout is malformed or
	// missing its marker file.
	ErrInvalidStore = errors.New("corestash: invalid store")

	// ErrNotConnected indicates a store operation before Connect or after
	// Disconnect.
	ErrNotConnected = errors.New("corestash: not connected")

	// ErrPermissionDenied indicates an authorizing store rejected an
	// operation.
	ErrPermissionDenied = errors.New("corestash: permission denied")

	// ErrNotOwner indicates Release of a lock held by someone else.
	ErrNotOwner = errors.New("corestash: lock not owned by this holder")

	// ErrTimedOut indicates a bounded wait expired.
	ErrTimedOut = errors.New("corestash: timed out")

	// ErrNotStarted indicates Step/End called on a ProgressReporter before
	// Start.
	ErrNotStarted = errors.New("corestash: progress not started")

	// ErrBackendFailure wraps an underlying I/O or network error from a
	// store backend.
	ErrBackendFailure = errors.New("corestash: backend failure")

	// ErrAlreadyRegistered indicates a duplicate event class registration.
	ErrAlreadyRegistered = errors.New("corestash: already registered")

	// ErrNotConnectedListener indicates Disconnect of a listener that was
	// never connected (or already disconnected).
	ErrNotConnectedListener = errors.New("corestash: listener not connected")

	// ErrAlreadyInitialized indicates a second attempt to set a
	// process-global singleton (the event bus) that may only be set once.
	ErrAlreadyInitialized = errors.New("corestash: already initialized")

	// ErrShutdownRefusal indicates Submit was called on a worker pool or
	// scheduler after shutdown was requested. Distinct from
	// ErrAlreadyShutDown in that it is the refusal itself, not the state.
	ErrShutdownRefusal = errors.New("corestash: submission refused, shut down")
)
