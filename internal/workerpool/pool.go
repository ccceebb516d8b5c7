// Package workerpool implements a bounded goroutine pool executing
// submitted jobs and producing Futures, grounded on the channel-owned-
// by-one-goroutine coordination style of cmd/bd/flush_manager.go,
// generalized from one hard-coded background task to an
// arbitrary-capacity pool. golang.org/x/sync's
// errgroup replaces flush_manager's sync.WaitGroup+sync.Once pair for
// worker lifecycle and Shutdown(wait=true) joining.
package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"weak"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/otelx"
)

var (
	metricsOnce  sync.Once
	jobDuration  metric.Float64Histogram
	jobsInFlight metric.Int64UpDownCounter
)

// initMetrics builds the package-wide job duration histogram and
// in-flight gauge on first use, sharing one instrument pair across every
// Pool rather than one per pool.
func initMetrics() {
	m := otelx.Meter()
	jobDuration, _ = m.Float64Histogram("workerpool.job.duration",
		metric.WithUnit("s"), metric.WithDescription("wall-clock time spent running one submitted job"))
	jobsInFlight, _ = m.Int64UpDownCounter("workerpool.jobs.in_flight",
		metric.WithDescription("jobs queued or currently executing across all pools"))
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithInitializer runs fn once on every worker goroutine before it
// starts serving jobs. A failing initializer is logged and the worker
// exits immediately without serving any job.
func WithInitializer(fn func() error) Option {
	return func(p *Pool) { p.initializer = fn }
}

// WithUninitializer runs fn once on every worker goroutine as it exits,
// after its last job (or immediately, if the initializer failed).
func WithUninitializer(fn func()) Option {
	return func(p *Pool) { p.uninitializer = fn }
}

// WithThreadNamePrefix sets a label used only for logging.
func WithThreadNamePrefix(prefix string) Option {
	return func(p *Pool) { p.namePrefix = prefix }
}

// WithFutureFactory overrides the Future constructor, letting callers
// supply an augmented Future type.
func WithFutureFactory(factory func() *Future) Option {
	return func(p *Pool) { p.newFuture = factory }
}

// WithWaitAtExit controls whether ShutdownAll blocks on this pool's
// workers (true, the default) or merely signals them to stop in the
// background (false).
func WithWaitAtExit(wait bool) Option {
	return func(p *Pool) { p.waitAtExit = wait }
}

// WithLogger overrides the pool's structured logger (default
// slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(p *Pool) { p.log = log }
}

// Pool is a bounded pool of goroutines executing submitted jobs,
// producing Futures that carry results, errors, and formatted
// tracebacks.
type Pool struct {
	maxWorkers int

	mu       sync.Mutex
	queue    *fifoQueue
	workers  int
	shutdown bool
	notEmpty chan struct{}

	initializer   func() error
	uninitializer func()
	namePrefix    string
	newFuture     func() *Future
	waitAtExit    bool
	log           *slog.Logger

	group *errgroup.Group

	regID uint64
}

// New creates a bounded pool with maxWorkers goroutines created lazily
// as work arrives, up to the cap.
func New(maxWorkers int, opts ...Option) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	p := &Pool{
		maxWorkers: maxWorkers,
		queue:      newFIFOQueue(),
		notEmpty:   make(chan struct{}, 1),
		newFuture:  NewFuture,
		waitAtExit: true,
		log:        slog.Default(),
		group:      &errgroup.Group{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.regID = register(p)
	return p
}

// Submit enqueues fn for execution and returns a Future for its result.
// It lazily spawns a new worker goroutine if the pool has not yet
// reached maxWorkers. Submit refuses with errs.ErrShutdownRefusal after
// Shutdown has been called.
func (p *Pool) Submit(fn func() (interface{}, error)) (*Future, error) {
	metricsOnce.Do(initMetrics)

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, errs.ErrShutdownRefusal
	}
	future := p.newFuture()
	p.queue.pushBack(workItem{fn: fn, future: future})
	if p.workers < p.maxWorkers {
		p.workers++
		p.group.Go(func() error {
			p.workerLoop()
			return nil
		})
	}
	p.signal()
	p.mu.Unlock()

	jobsInFlight.Add(context.Background(), 1)
	return future, nil
}

// signal must be called with p.mu held; it wakes one blocked worker.
func (p *Pool) signal() {
	select {
	case p.notEmpty <- struct{}{}:
	default:
	}
}

// Shutdown blocks further submissions. If wait is true it also blocks
// until every worker goroutine has drained the queue and exited.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	if !p.shutdown {
		p.shutdown = true
		p.queue.pushBack(workItem{poison: true})
		p.signal()
	}
	p.mu.Unlock()
	if wait {
		_ = p.group.Wait()
	}
	unregister(p.regID)
}

// workerLoop is the body run by every pool goroutine: run the
// initializer once, then repeatedly pop a work item and execute it,
// until a poison item is seen, at which point the poison is re-queued
// (so sibling workers also see it)
// and this worker exits, finally running the uninitializer.
func (p *Pool) workerLoop() {
	if p.initializer != nil {
		if err := p.initializer(); err != nil {
			p.log.Error("workerpool: initializer failed, worker exiting without serving jobs", "prefix", p.namePrefix, "error", err)
			p.workerDone()
			if p.uninitializer != nil {
				p.uninitializer()
			}
			return
		}
	}
	defer func() {
		if p.uninitializer != nil {
			p.uninitializer()
		}
	}()
	defer p.workerDone()

	for {
		item, ok := p.next()
		if !ok {
			continue
		}
		if item.poison {
			p.requeuePoison()
			return
		}
		p.run(item)
		// Drop our reference to the item/future promptly so a long chain
		// of completed jobs doesn't retain inputs.
		item = workItem{}
	}
}

func (p *Pool) workerDone() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

func (p *Pool) requeuePoison() {
	p.mu.Lock()
	p.queue.pushFront(workItem{poison: true})
	p.signal()
	p.mu.Unlock()
}

// next blocks until an item is available and returns it.
func (p *Pool) next() (workItem, bool) {
	for {
		p.mu.Lock()
		item, ok := p.queue.popFront()
		p.mu.Unlock()
		if ok {
			return item, true
		}
		<-p.notEmpty
	}
}

// run executes one job and settles its future, recovering from a panic
// the same way a captured Python exception would surface.
func (p *Pool) run(item workItem) {
	defer jobsInFlight.Add(context.Background(), -1)

	if !item.future.setRunningOrNotifyCancel() {
		return
	}
	start := time.Now()
	defer func() {
		jobDuration.Record(context.Background(), time.Since(start).Seconds())
		if r := recover(); r != nil {
			item.future.SetException(panicError{r})
		}
	}()
	result, err := item.fn()
	if err != nil {
		item.future.SetException(err)
		return
	}
	item.future.SetResult(result)
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "panic in worker job" }

// process-wide weak registry of live pools, used by ShutdownAll to
// signal or join every outstanding pool without the caller threading
// a reference through. Replaces an implicit interpreter-exit hook with
// an explicit, caller-invoked ShutdownAll.
var (
	registryMu sync.Mutex
	registry   = map[uint64]weak.Pointer[Pool]{}
	nextID     uint64
)

func register(p *Pool) uint64 {
	registryMu.Lock()
	defer registryMu.Unlock()
	nextID++
	id := nextID
	registry[id] = weak.Make(p)
	return id
}

func unregister(id uint64) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, id)
}

// ShutdownAll shuts down every live, still-registered pool. Pools
// created with WithWaitAtExit(false) are signaled but not waited on;
// all others are shut down with wait=true. Intended to be called from the
// process's own shutdown path (e.g. a defer in main, or a signal
// handler) since Go has no implicit interpreter-exit hook to piggyback
// on.
func ShutdownAll() {
	registryMu.Lock()
	snapshot := make([]weak.Pointer[Pool], 0, len(registry))
	for _, wp := range registry {
		snapshot = append(snapshot, wp)
	}
	registryMu.Unlock()

	for _, wp := range snapshot {
		if p := wp.Value(); p != nil {
			p.Shutdown(p.waitAtExit)
		}
	}
}
