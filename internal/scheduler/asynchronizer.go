package scheduler

import "github.com/corestash/corestash/internal/workerpool"

// asynchronizerPolicy holds a single slot that each new submission
// overwrites, so only the most recent submission between completions
// ever runs.
type asynchronizerPolicy struct {
	slot *job
}

func (p *asynchronizerPolicy) enqueue(j job) {
	p.slot = &j
}

func (p *asynchronizerPolicy) dequeue() (job, bool) {
	if p.slot == nil {
		return job{}, false
	}
	j := *p.slot
	p.slot = nil
	return j, true
}

func (p *asynchronizerPolicy) size() int {
	if p.slot == nil {
		return 0
	}
	return 1
}

// Asynchronizer coalesces submissions that arrive while a job is
// running: only the latest survives to run next.
type Asynchronizer struct {
	*Scheduler
}

// NewAsynchronizer builds an Asynchronizer over pool.
func NewAsynchronizer(pool *workerpool.Pool, opts ...Option) *Asynchronizer {
	return &Asynchronizer{Scheduler: newScheduler(pool, &asynchronizerPolicy{}, opts...)}
}
