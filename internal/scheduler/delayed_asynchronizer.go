package scheduler

import (
	"time"

	"github.com/corestash/corestash/internal/workerpool"
)

// DelayedAsynchronizer behaves like Asynchronizer (single coalescing
// slot) except that, after a completion, the next pending job is not
// scheduled immediately: a timer of interval is started first, and
// scheduling only happens when it fires. Shutdown cancels any pending
// timer instead of letting it fire. Directly grounded on
// flush_manager.go's debounce timer, generalized from one hard-coded
// flush into a reusable policy.
type DelayedAsynchronizer struct {
	*Scheduler

	interval time.Duration
	timer    *time.Timer // guarded by Scheduler.mu; non-nil while the inter-run delay is pending
}

// delayedPolicy is the Asynchronizer's single slot, held back while the
// inter-run timer is pending so a Submit in that window waits for it too.
type delayedPolicy struct {
	asynchronizerPolicy
	d *DelayedAsynchronizer
}

func (p *delayedPolicy) dequeue() (job, bool) {
	if p.d.timer != nil {
		return job{}, false
	}
	return p.asynchronizerPolicy.dequeue()
}

// NewDelayedAsynchronizer builds a DelayedAsynchronizer over pool that
// waits at least interval between the end of one run and the start of
// the next.
func NewDelayedAsynchronizer(pool *workerpool.Pool, interval time.Duration, opts ...Option) *DelayedAsynchronizer {
	d := &DelayedAsynchronizer{interval: interval}
	d.Scheduler = newScheduler(pool, &delayedPolicy{d: d}, opts...)
	d.afterComplete = d.afterCompleteDelayed
	d.onShutdown = d.onShutdownDelayed
	return d
}

// afterCompleteDelayed runs under Scheduler.mu immediately after a job
// completes: instead of scheduling the next pending job right away, it
// arms a timer so at least interval elapses first.
func (d *DelayedAsynchronizer) afterCompleteDelayed(s *Scheduler) {
	if d.interval <= 0 {
		s.scheduleNewLocked()
		return
	}
	d.timer = time.AfterFunc(d.interval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		d.timer = nil
		if s.shutdown {
			return
		}
		s.scheduleNewLocked()
		s.cond.Broadcast()
	})
}

// onShutdownDelayed runs under Scheduler.mu when Shutdown is first
// called: cancel any pending timer so its still-queued slot is left
// unconsumed rather than started late.
func (d *DelayedAsynchronizer) onShutdownDelayed(s *Scheduler) {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
