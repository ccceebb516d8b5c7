package event

import "weak"

// ListenerFunc handles a dispatched event.
type ListenerFunc func(Event)

// binding is the internal representation of one Connect call. free
// functions/lambdas are held by strong reference (alive always true);
// bound methods are tracked through a weak.Pointer to their receiver, so
// the receiver remains eligible for garbage collection and the binding
// self-removes once it is gone.
type binding struct {
	id       string
	class    *Class
	priority int
	seq      uint64
	filter   Filter
	call     func(Event)
	alive    func() bool
}

// newFreeBinding wraps a plain function as a strongly-held listener.
func newFreeBinding(id string, class *Class, fn ListenerFunc, priority int, filter Filter, seq uint64) *binding {
	return &binding{
		id:       id,
		class:    class,
		priority: priority,
		seq:      seq,
		filter:   filter,
		call:     fn,
		alive:    func() bool { return true },
	}
}

// newMethodBinding[T] wraps a bound-method-style listener: fn is called
// with the receiver only while the receiver is still reachable elsewhere
// in the program. Once the receiver is collected, alive() reports false
// and the bus drops the binding on its next dispatch pass.
func newMethodBinding[T any](id string, class *Class, receiver *T, fn func(*T, Event), priority int, filter Filter, seq uint64) *binding {
	wp := weak.Make(receiver)
	return &binding{
		id:       id,
		class:    class,
		priority: priority,
		seq:      seq,
		filter:   filter,
		call: func(e Event) {
			if r := wp.Value(); r != nil {
				fn(r, e)
			}
		},
		alive: func() bool { return wp.Value() != nil },
	}
}
