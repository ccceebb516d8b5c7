// Package event implements the corestash event bus: a typed,
// priority-ordered, filterable publish/subscribe registry with
// hierarchical dispatch and weakly-referenced bound-method listeners.
//
// Grounded on internal/eventbus's Bus.Register / dispatch-by-priority /
// "log and swallow" error policy, generalized with hierarchy, filter,
// weak-ref, and trace facilities; JetStream publishing is not
// reproduced — this store has no external message bus to publish to.
package event

// Event is the interface every dispatched notification implements. The
// concrete Store*/Progress*/Heartbeat events in events.go all embed Base,
// which supplies the bookkeeping fields; a custom event type need only
// embed Base and set its Class in its constructor.
type Event interface {
	// Class returns the event's position in the class hierarchy.
	Class() *Class
	// Source returns the value that emitted the event.
	Source() interface{}
	// Handled reports whether a listener has already marked the event
	// handled, which stops further dispatch.
	Handled() bool
	// SetHandled marks the event handled (or un-marks it, though no
	// built-in listener does that).
	SetHandled(bool)
	// PreEmit is called once, before any listener runs.
	PreEmit()
	// PostEmit is called once, after dispatch stops (whether because
	// listeners were exhausted or because a listener handled the event).
	PostEmit()
}

// Base is embedded by every concrete event type to satisfy Event.
// PreEmit/PostEmit are no-ops by default; embedding types may shadow
// them to add behavior (e.g. StoreTransactionEndEvent does not need to,
// but a future event type might stamp a timestamp in PreEmit).
type Base struct {
	class   *Class
	source  interface{}
	handled bool
}

// NewBase constructs the embeddable event bookkeeping struct. Concrete
// event constructors call this with their package-level Class and the
// emitting source.
func NewBase(class *Class, source interface{}) Base {
	return Base{class: class, source: source}
}

func (b *Base) Class() *Class       { return b.class }
func (b *Base) Source() interface{} { return b.source }
func (b *Base) Handled() bool       { return b.handled }
func (b *Base) SetHandled(v bool)   { b.handled = v }
func (b *Base) PreEmit()            {}
func (b *Base) PostEmit()           {}
