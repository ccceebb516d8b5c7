// Package progress implements the Progress Reporter: a small stateful
// emitter of Start/Step/End events around a long
// operation, grounded on
// original_source/encore/events/progress_events.py's ProgressManager.
// Where the original defaults operation_id to a fresh uuid4() and
// source to itself when the caller passes none, Reporter takes both
// explicitly — Go has no implicit "use the caller's frame" fallback,
// so the caller supplies them via New.
package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/otelx"
	"github.com/corestash/corestash/scoped"
)

// NewOperationID generates a fresh operation identifier, standing in
// for the original's implicit uuid4() default when a caller has no
// more meaningful ID of their own to pass to New/NewForKey.
func NewOperationID() string {
	return uuid.NewString()
}

// ExitState mirrors event.ExitState; re-exported here so callers of
// this package don't need to import internal/event just to name
// ExitNormal et al.
type ExitState = event.ExitState

const (
	ExitNormal    = event.ExitNormal
	ExitWarning   = event.ExitWarning
	ExitError     = event.ExitError
	ExitException = event.ExitException
)

// Reporter tracks one operation's progress and emits ProgressEvent (or,
// when constructed with a key via NewForKey, StoreProgressEvent)
// variants onto a bus. A nil bus is tolerated — Start/Step/End become
// no-ops for event emission but still drive the OTel span — the same
// way store.Base's Emit* methods tolerate a store with no bus attached.
// Not safe for concurrent Step calls from more than one goroutine —
// serialize steps the way the original's single-threaded
// ProgressManager assumes.
type Reporter struct {
	mu sync.Mutex

	bus         *event.Bus
	source      interface{}
	operationID string
	key         string // non-empty: emit Store-Progress variants instead
	hasKey      bool

	message   string
	steps     int
	stepCount int
	running   bool

	span trace.Span
}

// New creates a Reporter that emits the plain ProgressEvent family.
// message is the default used by Step/End when they're passed "".
func New(bus *event.Bus, source interface{}, operationID, message string) *Reporter {
	return &Reporter{bus: bus, source: source, operationID: operationID, message: message}
}

// NewForKey creates a Reporter that emits the Store-Progress event
// family, used by ToFile/FromFile/ToBytes/FromBytes, tagging every
// event with the key being transferred.
func NewForKey(bus *event.Bus, source interface{}, key, operationID, message string) *Reporter {
	return &Reporter{bus: bus, source: source, operationID: operationID, key: key, hasKey: true, message: message}
}

// Start emits a start event and opens an OTel span covering the
// operation, closed by the matching End. steps is the total step
// count, or -1 if unknown/variable.
func (r *Reporter) Start(extras interface{}, steps int) {
	_, span := otelx.Tracer().Start(context.Background(), r.spanName(),
		trace.WithAttributes(attribute.String("operation_id", r.operationID)))

	r.mu.Lock()
	r.running = true
	r.steps = steps
	r.stepCount = 0
	r.span = span
	r.mu.Unlock()

	if r.bus == nil {
		return
	}
	if r.hasKey {
		r.bus.Emit(event.NewStoreProgressStartEvent(r.source, r.key, r.operationID, r.message, steps), true)
		return
	}
	r.bus.Emit(event.NewProgressStartEvent(r.source, r.operationID, r.message, steps, asMap(extras)), true)
}

// Step emits one step event. An empty message reuses the Reporter's
// default message; a negative step uses (and then advances) the
// internal counter, matching the original's self._step_count.
func (r *Reporter) Step(message string, step int, extras interface{}) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return errs.ErrNotStarted
	}
	if message == "" {
		message = r.message
	}
	if step < 0 {
		step = r.stepCount
	}
	r.stepCount++
	span := r.span
	r.mu.Unlock()

	if span != nil {
		span.AddEvent(message, trace.WithAttributes(attribute.Int("step", step)))
	}

	if r.bus == nil {
		return nil
	}
	if r.hasKey {
		r.bus.Emit(event.NewStoreProgressStepEvent(r.source, r.key, r.operationID, message, step), true)
		return nil
	}
	r.bus.Emit(event.NewProgressStepEvent(r.source, r.operationID, message, step, asMap(extras)), true)
	return nil
}

// End emits the final event and marks the Reporter no longer running,
// so a subsequent Start can reuse it for a new operation.
func (r *Reporter) End(message string, state ExitState, extras interface{}) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return errs.ErrNotStarted
	}
	if message == "" {
		message = r.message
	}
	r.running = false
	span := r.span
	r.span = nil
	r.mu.Unlock()

	if span != nil {
		endSpan(span, state, message)
	}

	if r.bus == nil {
		return nil
	}
	if r.hasKey {
		r.bus.Emit(event.NewStoreProgressEndEvent(r.source, r.key, r.operationID, message, state), true)
		return nil
	}
	r.bus.Emit(event.NewProgressEndEvent(r.source, r.operationID, message, state, asMap(extras)), true)
	return nil
}

// spanName picks a human-readable span name: the key being transferred
// for a keyed reporter, else the default message, falling back to the
// operation ID if neither is set.
func (r *Reporter) spanName() string {
	switch {
	case r.hasKey:
		return "store." + r.key
	case r.message != "":
		return r.message
	default:
		return r.operationID
	}
}

// endSpan maps an ExitState onto the OTel span status convention: only
// ExitNormal counts as Ok, everything else (Warning, Error, Exception)
// is reported as an error status carrying message as its description.
func endSpan(span trace.Span, state ExitState, message string) {
	if state == ExitNormal {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, message)
	}
	span.End()
}

// With runs fn as a scoped operation: Start before, then End with
// ExitNormal on success or ExitException (message from err, or from a
// recovered panic) on failure — the Go equivalent of ProgressManager's
// __enter__/__exit__ pair. release always runs, panic or not, so End
// fires even when fn panics, matching __exit__'s unconditional call.
func (r *Reporter) With(steps int, fn func() error) error {
	var jobErr error
	var panicked interface{}
	return scoped.With(
		func() (struct{}, error) { r.Start(nil, steps); return struct{}{}, nil },
		func(struct{}) error {
			switch {
			case panicked != nil:
				return r.End(fmt.Sprint(panicked), ExitException, nil)
			case jobErr != nil:
				return r.End(jobErr.Error(), ExitException, nil)
			default:
				return r.End("", ExitNormal, nil)
			}
		},
		func(struct{}) (err error) {
			defer func() {
				if p := recover(); p != nil {
					panicked = p
					panic(p)
				}
			}()
			jobErr = fn()
			return jobErr
		},
	)
}

func asMap(extras interface{}) map[string]interface{} {
	if extras == nil {
		return nil
	}
	if m, ok := extras.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"extras": extras}
}
