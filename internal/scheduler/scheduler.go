// Package scheduler implements the Work Scheduler family: a shared
// single-in-flight skeleton plus four pending-store policies layered
// over an internal/workerpool.Pool. The skeleton is grounded on the
// teacher's cmd/bd/flush_manager.go, which is in
// effect a hand-rolled Delayed Asynchronizer: one background state
// machine, fed by events, holding at most one outstanding flush and
// debouncing the next behind a timer. Here that single hard-coded case
// is generalized into a pluggable policy so the same skeleton serves
// all four concrete schedulers.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/otelx"
	"github.com/corestash/corestash/internal/workerpool"
)

var (
	queueDepthOnce  sync.Once
	queueDepthGauge metric.Int64ObservableGauge
)

// initQueueDepthGauge builds the package-wide pending-job gauge, shared
// across every concrete scheduler (Serializer, Asynchronizer, etc.). Each
// Scheduler registers its own observer callback against this one
// instrument, tagged with its name, rather than maintaining a manually
// incremented counter that could drift out of sync with a coalescing
// policy like serializingAsynchronizerPolicy's.
func initQueueDepthGauge() {
	queueDepthGauge, _ = otelx.Meter().Int64ObservableGauge("scheduler.queue.depth",
		metric.WithDescription("jobs held by a scheduler's policy, waiting for the currently executing job to finish"))
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithCallback registers fn to run with the settled Future after every
// completed job.
func WithCallback(fn func(*workerpool.Future)) Option {
	return func(s *Scheduler) { s.callback = fn }
}

// WithName labels the scheduler for logging.
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

// WithLogger overrides the scheduler's structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// Scheduler is the shared single-in-flight skeleton.
// Concrete policies are built by wrapping newScheduler with a particular policy
// implementation; see Serializer, Asynchronizer,
// SerializingAsynchronizer, and DelayedAsynchronizer.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	pool *workerpool.Pool
	pol  policy

	executing *workerpool.Future
	shutdown  bool

	callback func(*workerpool.Future)
	name     string
	log      *slog.Logger

	metricReg metric.Registration

	// afterComplete runs under the lock immediately after executing is
	// cleared on each completion, and decides when/whether to call
	// scheduleNewLocked again. The default schedules immediately;
	// DelayedAsynchronizer overrides it to defer behind a timer.
	afterComplete func(s *Scheduler)

	// onShutdown runs under the lock when shutdown is first requested,
	// so a policy that owns extra state (e.g. a pending timer) can tear
	// it down. Optional.
	onShutdown func(s *Scheduler)
}

func newScheduler(pool *workerpool.Pool, pol policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		pool: pool,
		pol:  pol,
		log:  slog.Default(),
	}
	s.cond = sync.NewCond(&s.mu)
	s.afterComplete = func(sc *Scheduler) { sc.scheduleNewLocked() }
	for _, opt := range opts {
		opt(s)
	}

	queueDepthOnce.Do(initQueueDepthGauge)
	if queueDepthGauge != nil {
		s.metricReg, _ = otelx.Meter().RegisterCallback(func(_ context.Context, o metric.Observer) error {
			s.mu.Lock()
			n := int64(s.pol.size())
			s.mu.Unlock()
			o.ObserveInt64(queueDepthGauge, n, metric.WithAttributes(attribute.String("scheduler", s.name)))
			return nil
		}, queueDepthGauge)
	}
	return s
}

// Submit enqueues fn under the scheduler's policy and, if nothing is
// currently executing, immediately hands the next eligible job to the
// worker pool. It refuses with errs.ErrShutdownRefusal once Shutdown
// has been called.
func (s *Scheduler) Submit(fn func() (interface{}, error)) error {
	return s.submitJob(job{fn: fn})
}

// submitJob is the shared entry point behind Submit and
// SerializingAsynchronizer.SubmitKeyed.
func (s *Scheduler) submitJob(j job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return errs.ErrShutdownRefusal
	}
	s.pol.enqueue(j)
	s.scheduleNewLocked()
	return nil
}

// scheduleNewLocked must be called with s.mu held. If no job is
// currently executing, it pulls the next pending job from the policy
// (if any) and submits it to the worker pool.
func (s *Scheduler) scheduleNewLocked() {
	if s.executing != nil {
		return
	}
	j, ok := s.pol.dequeue()
	if !ok {
		return
	}
	future, err := s.pool.Submit(j.fn)
	if err != nil {
		// The backing pool is gone; log and drop rather than wedge this
		// scheduler forever waiting on a future that will never arrive.
		s.log.Error("scheduler: worker pool refused submission", "scheduler", s.name, "error", err)
		return
	}
	s.executing = future
	future.AddDoneCallback(s.completionHook)
}

// completionHook runs (on whatever goroutine finished the job) after
// the executing future settles: invoke the user callback, read and log
// any job error, then clear executing state and let afterComplete
// decide what happens next.
func (s *Scheduler) completionHook(future *workerpool.Future) {
	if s.callback != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("scheduler: user completion callback panicked", "scheduler", s.name, "panic", r)
				}
			}()
			s.callback(future)
		}()
	}

	if _, err := future.Result(0); err != nil {
		s.log.Error("scheduler: job failed", "scheduler", s.name, "error", err, "traceback", future.Traceback())
	}

	s.mu.Lock()
	s.executing = nil
	s.afterComplete(s)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Wait blocks while a job is currently executing. Because
// completionHook reassigns executing to the next auto-scheduled job
// before waking waiters, this transitively waits out the whole chain
// of jobs the policy keeps handing back, not just the one in flight
// when Wait was called.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.executing != nil {
		s.cond.Wait()
	}
}

// Shutdown marks the scheduler refusing further submissions, then
// blocks until any currently running and pending-by-policy work has
// drained.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.shutdown {
		s.shutdown = true
		if s.onShutdown != nil {
			s.onShutdown(s)
		}
	}
	s.mu.Unlock()

	s.drain()

	if s.metricReg != nil {
		_ = s.metricReg.Unregister()
	}
}

// drain waits for the executing job, and — since completionHook
// reassigns executing to the next scheduled job (if any) before
// broadcasting — transitively for every job the policy auto-schedules
// as each predecessor completes. DelayedAsynchronizer's onShutdown
// cancels its pending timer before this runs, so its still-pending
// slot is correctly left unconsumed rather than drained here.
func (s *Scheduler) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.executing != nil {
		s.cond.Wait()
	}
}
