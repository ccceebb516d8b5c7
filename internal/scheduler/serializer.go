package scheduler

import "github.com/corestash/corestash/internal/workerpool"

// serializerPolicy holds pending jobs in submission order and pops from
// the front, giving submit order equal to execution order.
type serializerPolicy struct {
	pending []job
}

func (p *serializerPolicy) enqueue(j job) {
	p.pending = append(p.pending, j)
}

func (p *serializerPolicy) dequeue() (job, bool) {
	if len(p.pending) == 0 {
		return job{}, false
	}
	j := p.pending[0]
	p.pending = p.pending[1:]
	return j, true
}

func (p *serializerPolicy) size() int { return len(p.pending) }

// Serializer runs submitted jobs one at a time, strictly in submission
// order.
type Serializer struct {
	*Scheduler
}

// NewSerializer builds a Serializer over pool.
func NewSerializer(pool *workerpool.Pool, opts ...Option) *Serializer {
	return &Serializer{Scheduler: newScheduler(pool, &serializerPolicy{}, opts...)}
}
