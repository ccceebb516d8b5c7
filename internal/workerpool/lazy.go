package workerpool

import (
	"sync"

	"github.com/corestash/corestash/errs"
)

// Lazy is a single-slot Executor that queues submitted jobs without
// running them, grounded on
// original_source/encore/concurrent/futures/lazy.py's LazyExecutor.
// Nothing runs until ExecuteOne or ExecuteAll is called explicitly, or
// until the one background worker is started with Run — unlike Pool,
// which spawns goroutines as jobs arrive up to its cap, Lazy never
// spawns anything on its own. cmd/cstash/demo.go uses it as its
// executor, starting the one worker with Run right after construction,
// before it submits any job.
type Lazy struct {
	mu       sync.Mutex
	queue    *fifoQueue
	shutdown bool
	started  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewLazy constructs an empty Lazy pool.
func NewLazy() *Lazy {
	return &Lazy{queue: newFIFOQueue(), wake: make(chan struct{}, 1)}
}

// Submit enqueues fn without executing it. The caller must eventually
// call ExecuteOne, ExecuteAll, or Run for the job to make progress.
func (l *Lazy) Submit(fn func() (interface{}, error)) (*Future, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return nil, errs.ErrShutdownRefusal
	}
	future := NewFuture()
	l.queue.pushBack(workItem{fn: fn, future: future})
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return future, nil
}

// ExecuteOne runs a single queued job on the calling goroutine. It
// returns false if the queue is currently empty.
func (l *Lazy) ExecuteOne() bool {
	l.mu.Lock()
	item, ok := l.queue.popFront()
	l.mu.Unlock()
	if !ok {
		return false
	}
	runItem(item)
	return true
}

// ExecuteAll drains the queue on the calling goroutine, running jobs
// one at a time until none remain.
func (l *Lazy) ExecuteAll() {
	for l.ExecuteOne() {
	}
}

// Run starts the pool's one worker goroutine, lazily, the first time
// it's called. The worker drains jobs as they arrive until Shutdown.
// Submit before Run simply leaves jobs queued; calling Run later still
// picks them up.
func (l *Lazy) Run() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.mu.Unlock()
	go l.workerLoop()
}

func (l *Lazy) workerLoop() {
	defer close(l.done)
	for {
		l.ExecuteAll()
		select {
		case <-l.stop:
			l.ExecuteAll()
			return
		case <-l.wake:
		}
	}
}

// Shutdown blocks further submissions. If wait is true and Run was
// called, it also blocks until the worker goroutine has drained the
// queue and exited.
func (l *Lazy) Shutdown(wait bool) {
	l.mu.Lock()
	l.shutdown = true
	started := l.started
	stop, done := l.stop, l.done
	l.mu.Unlock()

	if !started {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	if wait {
		<-done
	}
}

func runItem(item workItem) {
	if item.poison || !item.future.setRunningOrNotifyCancel() {
		return
	}
	defer func() {
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
