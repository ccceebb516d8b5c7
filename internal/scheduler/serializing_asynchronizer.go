package scheduler

import "github.com/corestash/corestash/internal/workerpool"

// serializingAsynchronizerPolicy keeps an insertion-ordered map keyed by
// callable identity: re-submitting under a key already pending replaces
// its job in place, without moving it in the order, so distinct
// callables still run in first-submission order while each one only
// ever runs with its latest arguments. A real callable identity isn't
// comparable in Go, so callers supply an explicit key via SubmitKeyed.
type serializingAsynchronizerPolicy struct {
	order   []interface{}
	pending map[interface{}]job
}

func newSerializingAsynchronizerPolicy() *serializingAsynchronizerPolicy {
	return &serializingAsynchronizerPolicy{pending: map[interface{}]job{}}
}

func (p *serializingAsynchronizerPolicy) enqueue(j job) {
	if _, exists := p.pending[j.key]; !exists {
		p.order = append(p.order, j.key)
	}
	p.pending[j.key] = j
}

func (p *serializingAsynchronizerPolicy) dequeue() (job, bool) {
	if len(p.order) == 0 {
		return job{}, false
	}
	key := p.order[0]
	p.order = p.order[1:]
	j := p.pending[key]
	delete(p.pending, key)
	return j, true
}

func (p *serializingAsynchronizerPolicy) size() int { return len(p.order) }

// SerializingAsynchronizer coalesces per-callable, preserving
// submission order across distinct callables while keeping only the
// most recent arguments for any one callable.
type SerializingAsynchronizer struct {
	*Scheduler
}

// NewSerializingAsynchronizer builds a SerializingAsynchronizer over pool.
func NewSerializingAsynchronizer(pool *workerpool.Pool, opts ...Option) *SerializingAsynchronizer {
	return &SerializingAsynchronizer{Scheduler: newScheduler(pool, newSerializingAsynchronizerPolicy(), opts...)}
}

// SubmitKeyed enqueues fn under key, coalescing with any job already
// pending under the same key.
func (s *SerializingAsynchronizer) SubmitKeyed(key interface{}, fn func() (interface{}, error)) error {
	return s.submitJob(job{fn: fn, key: key})
}
