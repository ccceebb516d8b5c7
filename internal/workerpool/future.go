package workerpool

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/corestash/corestash/errs"
)

type futureState int

const (
	statePending futureState = iota
	stateRunning
	stateFinished
)

// Future carries the eventual outcome of one submitted job: tri-state
// {pending, running, finished}, a result-or-error, and — unlike a plain
// stdlib future — a formatted traceback captured at the instant the
// exception was set. Completion is signaled via a
// close-once channel rather than sync.Cond so Result can honor a timeout
// without polling.
type Future struct {
	mu        sync.Mutex
	state     futureState
	result    interface{}
	err       error
	traceback string
	cancelled bool
	done      chan struct{}
	callbacks []func(*Future)
}

// NewFuture constructs a pending Future. Pools accept a factory function
// returning *Future so callers can supply an augmented Future type;
// NewFuture is the default.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// setRunningOrNotifyCancel is called by a worker immediately before
// executing the job. It returns false if the future was cancelled before
// the worker got to it, in which case the worker must drop the job
// without executing it.
func (f *Future) setRunningOrNotifyCancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return false
	}
	f.state = stateRunning
	return true
}

// SetResult marks the future finished with a successful result and runs
// any registered completion callbacks.
func (f *Future) SetResult(v interface{}) {
	f.finish(func() {
		f.result = v
	})
}

// SetException marks the future finished with an error, capturing the
// stack at this instant (not at whatever later point Result() is
// called) as the Traceback.
func (f *Future) SetException(err error) {
	f.finish(func() {
		f.err = err
		f.traceback = string(debug.Stack())
	})
}

func (f *Future) finish(mutate func()) {
	f.mu.Lock()
	if f.state == stateFinished {
		f.mu.Unlock()
		return
	}
	mutate()
	f.state = stateFinished
	cbs := append([]func(*Future){}, f.callbacks...)
	close(f.done)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(f)
	}
}

// Cancel attempts to cancel an unstarted future. Returns false if the
// future is already running or finished (running jobs are not
// interrupted — cooperative cancellation only).
func (f *Future) Cancel() bool {
	f.mu.Lock()
	if f.state != statePending {
		f.mu.Unlock()
		return false
	}
	f.cancelled = true
	f.state = stateFinished
	cbs := append([]func(*Future){}, f.callbacks...)
	close(f.done)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(f)
	}
	return true
}

// Cancelled reports whether Cancel succeeded on this future.
func (f *Future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Done reports whether the future has reached a terminal state
// (finished, including via cancellation).
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future is finished (or timeout elapses) and
// returns its value, or its error if SetException was called. A
// non-positive timeout waits indefinitely.
func (f *Future) Result(timeout time.Duration) (interface{}, error) {
	if !f.waitFinished(timeout) {
		return nil, errs.TimedOut("future result")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return nil, errs.TimedOut("future cancelled")
	}
	return f.result, f.err
}

// Exception blocks until finished and returns the stored error, if any,
// without requiring the caller to also consume the result.
func (f *Future) Exception(timeout time.Duration) (error, error) {
	if !f.waitFinished(timeout) {
		return nil, errs.TimedOut("future exception")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err, nil
}

// Traceback returns the stack captured at SetException time, or "" if
// the future did not finish with an exception.
func (f *Future) Traceback() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.traceback
}

// AddDoneCallback registers fn to run once the future is finished, in
// registration order. If the future is already finished, fn runs
// immediately (synchronously, on the calling goroutine), so completion
// callbacks fire exactly once even if registered after completion.
func (f *Future) AddDoneCallback(fn func(*Future)) {
	f.mu.Lock()
	if f.state != stateFinished {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f)
}

func (f *Future) waitFinished(timeout time.Duration) bool {
	if timeout <= 0 {
		<-f.done
		return true
	}
	select {
	case <-f.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
