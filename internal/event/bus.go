package event

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/corestash/corestash/errs"
)

// TraceFunc is installed via Bus.SetTrace to observe every Connect
// (including ConnectMethod), Disconnect and Emit action. Returning true vetoes
// the action: Connect/Disconnect become no-ops and Emit suppresses
// dispatch. args carries the action-specific parameters (e.g. for Emit,
// the event).
type TraceFunc func(action string, target string, args ...interface{}) bool

// Bus is a typed publish/subscribe registry. One Bus may be designated
// the process-global bus via SetGlobal; a second SetGlobal call fails
// with errs.ErrAlreadyInitialized.
type Bus struct {
	mu       sync.RWMutex
	reg      *registry
	handlers map[*Class][]*binding
	trace    TraceFunc
	seq      atomic.Uint64
	log      *slog.Logger
}

// New creates a new, empty event bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		reg:      newRegistry(),
		handlers: make(map[*Class][]*binding),
		log:      log,
	}
}

var (
	globalMu sync.Mutex
	global   *Bus
)

// SetGlobal designates b as the process-wide event bus. It may be called
// exactly once; subsequent calls return errs.ErrAlreadyInitialized.
func SetGlobal(b *Bus) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return errs.ErrAlreadyInitialized
	}
	global = b
	return nil
}

// Global returns the process-wide bus, or nil if none has been set.
func Global() *Bus {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// SetTrace installs a single trace callback, replacing any previous one.
// Pass nil to remove tracing.
func (b *Bus) SetTrace(fn TraceFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trace = fn
}

func (b *Bus) traced(action, target string, args ...interface{}) bool {
	b.mu.RLock()
	fn := b.trace
	b.mu.RUnlock()
	if fn == nil {
		return false
	}
	return fn(action, target, args...)
}

// Register introduces an event class to the bus. Duplicate registration
// fails with errs.ErrAlreadyRegistered.
func (b *Bus) Register(class *Class) error {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	if b.reg.known[class] {
		return errs.ErrAlreadyRegistered
	}
	b.reg.known[class] = true
	return nil
}

// ensureRegistered is used internally by Connect/Emit so callers are not
// forced to Register explicitly before first use, while Register itself
// still enforces idempotent-duplicate failure for callers who do call it.
func (b *Bus) ensureRegistered(class *Class) {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	b.reg.known[class] = true
}

// ConnectOption configures a Connect/ConnectMethod call.
type ConnectOption func(*bindingOpts)

type bindingOpts struct {
	priority int
	filter   Filter
}

// WithPriority sets dispatch priority; higher runs earlier. Default 0.
func WithPriority(p int) ConnectOption {
	return func(o *bindingOpts) { o.priority = p }
}

// WithFilter restricts dispatch to events matching f.
func WithFilter(f Filter) ConnectOption {
	return func(o *bindingOpts) { o.filter = f }
}

// Connect attaches a strongly-held listener (a free function or lambda)
// to class, identified by id. Re-connecting the same id on the same
// class first disconnects the prior registration (idempotent identity).
func (b *Bus) Connect(class *Class, id string, fn ListenerFunc, opts ...ConnectOption) {
	if b.traced("connect", id, class, fn) {
		return
	}
	o := applyOpts(opts)
	b.ensureRegistered(class)
	seq := b.seq.Add(1)
	bd := newFreeBinding(id, class, fn, o.priority, o.filter, seq)
	b.insert(class, bd)
}

// ConnectMethod attaches a listener bound to receiver, held only weakly:
// once receiver becomes unreachable elsewhere, the binding
// self-disconnects. Go's generic-method restriction means this is a package function
// rather than a Bus method.
func ConnectMethod[T any](b *Bus, class *Class, id string, receiver *T, fn func(*T, Event), opts ...ConnectOption) {
	if b.traced("connect", id, class, receiver) {
		return
	}
	o := applyOpts(opts)
	b.ensureRegistered(class)
	seq := b.seq.Add(1)
	bd := newMethodBinding(id, class, receiver, fn, o.priority, o.filter, seq)
	b.insert(class, bd)
}

func applyOpts(opts []ConnectOption) bindingOpts {
	var o bindingOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// insert disconnects any existing binding with the same id on class,
// then appends the new one and keeps the per-class slice sorted by
// (-priority, registration order), the order dispatch walks listeners in.
func (b *Bus) insert(class *Class, bd *binding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[class]
	list = removeID(list, bd.id)
	list = append(list, bd)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	b.handlers[class] = list
}

func removeID(list []*binding, id string) []*binding {
	out := list[:0:0]
	for _, bd := range list {
		if bd.id != id {
			out = append(out, bd)
		}
	}
	return out
}

// Disconnect removes the listener identified by id from class. Missing
// listener fails with errs.ErrNotConnectedListener.
func (b *Bus) Disconnect(class *Class, id string) error {
	if b.traced("disconnect", id, class) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[class]
	for _, bd := range list {
		if bd.id == id {
			b.handlers[class] = removeID(list, id)
			return nil
		}
	}
	return errs.ErrNotConnectedListener
}

// Disable gates class (and its descendants, since an ancestor disabled
// silences all children during dispatch).
func (b *Bus) Disable(class *Class) {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	b.reg.disabled[class] = true
}

// Enable un-gates class.
func (b *Bus) Enable(class *Class) {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	delete(b.reg.disabled, class)
}

// GetEventHierarchy returns class and its ancestors, nearest first.
func (b *Bus) GetEventHierarchy(class *Class) []*Class {
	return class.Hierarchy()
}

func (b *Bus) anyDisabled(hierarchy []*Class) bool {
	b.reg.mu.RLock()
	defer b.reg.mu.RUnlock()
	for _, c := range hierarchy {
		if b.reg.disabled[c] {
			return true
		}
	}
	return false
}

// matchingListeners merges the per-class sorted lists across the class
// hierarchy into one priority-then-registration-order sequence, dropping
// any binding whose weak receiver has died along the way.
func (b *Bus) matchingListeners(hierarchy []*Class) []*binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	var merged []*binding
	for _, c := range hierarchy {
		list := b.handlers[c]
		kept := list[:0:0]
		for _, bd := range list {
			if !bd.alive() {
				continue
			}
			kept = append(kept, bd)
		}
		if len(kept) != len(list) {
			b.handlers[c] = kept
		}
		merged = append(merged, kept...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].priority != merged[j].priority {
			return merged[i].priority > merged[j].priority
		}
		return merged[i].seq < merged[j].seq
	})
	return merged
}

// EmitHandle is returned by Emit for non-blocking dispatch. Wait blocks
// until that dispatch has completed; for a blocking Emit, Wait returns
// immediately.
type EmitHandle struct {
	done chan struct{}
	res  *Result
}

// Wait blocks until dispatch completes and returns the accumulated
// Result.
func (h *EmitHandle) Wait() *Result {
	<-h.done
	return h.res
}

// Result accumulates whatever dispatch-time bookkeeping callers want to
// observe; reserved for future expansion (e.g. handler error counts).
type Result struct {
	Handled bool
	Errors  []error
}

// Emit dispatches event to every listener across its class hierarchy
// that is not filtered out, in descending-priority / registration order.
// If block is true, dispatch runs on the calling goroutine and Emit does
// not return until it finishes; if false, dispatch runs on a new
// goroutine and Emit returns immediately with a handle.
//
// Listener panics/errors are logged and swallowed — dispatch continues
// to the next listener.
func (b *Bus) Emit(event Event, block bool) (*EmitHandle, error) {
	if event == nil {
		return nil, errors.New("event: nil event")
	}
	if b.traced("emit", event.Class().Name(), event) {
		h := &EmitHandle{done: make(chan struct{})}
		close(h.done)
		return h, nil
	}

	run := func() *Result {
		hierarchy := b.GetEventHierarchy(event.Class())
		res := &Result{}
		if b.anyDisabled(hierarchy) {
			return res
		}
		listeners := b.matchingListeners(hierarchy)
		event.PreEmit()
		for _, bd := range listeners {
			if bd.filter != nil && !bd.filter.matches(event) {
				continue
			}
			b.invoke(bd, event, res)
			if event.Handled() {
				break
			}
		}
		event.PostEmit()
		res.Handled = event.Handled()
		return res
	}

	if block {
		res := run()
		h := &EmitHandle{done: make(chan struct{}), res: res}
		close(h.done)
		return h, nil
	}

	h := &EmitHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.res = run()
	}()
	return h, nil
}

// invoke calls a single listener, recovering from panics and logging
// any error the same way eventbus.Dispatch logs handler errors without
// aborting the chain.
func (b *Bus) invoke(bd *binding, event Event, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event: listener panicked", "listener", bd.id, "class", event.Class().Name(), "panic", r)
		}
	}()
	bd.call(event)
}
