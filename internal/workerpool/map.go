package workerpool

import "time"

// MapResult is produced by Map for each submitted item, in submission
// order.
type MapResult struct {
	Value interface{}
	Err   error
}

// Map eagerly submits fn(item) for every item before returning control
// to the caller, then yields results in submission order as each
// underlying Future resolves, honoring timeout per item. If the caller
// stops ranging over the returned channel before it is drained, call
// Cancel on the returned *MapCall to cancel the remaining futures.
type MapCall struct {
	futures []*Future
	out     chan MapResult
	timeout time.Duration
}

// Map submits fn(item) for every item in items, then returns a MapCall
// whose Results channel yields one MapResult per item, in order.
func (p *Pool) Map(fn func(interface{}) (interface{}, error), items []interface{}, timeout time.Duration) *MapCall {
	futures := make([]*Future, len(items))
	for i, item := range items {
		item := item
		f, err := p.Submit(func() (interface{}, error) { return fn(item) })
		if err != nil {
			// Pool already shut down: represent as an immediately-failed
			// future rather than panicking the caller.
			f = p.newFuture()
			f.SetException(err)
		}
		futures[i] = f
	}

	mc := &MapCall{futures: futures, out: make(chan MapResult), timeout: timeout}
	go mc.drain()
	return mc
}

func (mc *MapCall) drain() {
	defer close(mc.out)
	for _, f := range mc.futures {
		v, err := f.Result(mc.timeout)
		mc.out <- MapResult{Value: v, Err: err}
	}
}

// Results returns the channel of results, in submission order.
func (mc *MapCall) Results() <-chan MapResult {
	return mc.out
}

// Cancel cancels every future not yet started, for abandonment of the
// iterator mid-drain.
func (mc *MapCall) Cancel() {
	for _, f := range mc.futures {
		f.Cancel()
	}
}
