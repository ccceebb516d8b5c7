package store

import (
	"sync"
	"sync/atomic"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/progress"
)

// Base is embedded by concrete backends to supply the connection-state
// bookkeeping and mutation-event emission every backend needs, so that
// part doesn't get re-implemented per backend. Grounded on
// internal/storage/provider.go's
// interface-wrapping style — one small struct wrapping the parts common
// to every implementation rather than a base class, since Go backends
// compose Base by embedding instead of inheriting from it).
type Base struct {
	Bus    *event.Bus
	Source interface{}

	connected atomic.Bool
	mu        sync.Mutex
}

// NewBase constructs a Base. bus may be nil, in which case mutation
// events are silently not emitted (useful for ephemeral/test stores
// that don't care about the event bus).
func NewBase(bus *event.Bus, source interface{}) Base {
	return Base{Bus: bus, Source: source}
}

// MarkConnected records a successful Connect. Backends call this after
// their own connection setup succeeds.
func (b *Base) MarkConnected() {
	b.connected.Store(true)
}

// MarkDisconnected records Disconnect.
func (b *Base) MarkDisconnected() {
	b.connected.Store(false)
}

// IsConnected implements Store.IsConnected.
func (b *Base) IsConnected() bool {
	return b.connected.Load()
}

// RequireConnected returns errs.ErrNotConnected if the backend hasn't
// connected yet: operations before Connect or after Disconnect fail
// with ErrNotConnected.
func (b *Base) RequireConnected() error {
	if !b.connected.Load() {
		return errs.ErrNotConnected
	}
	return nil
}

// EmitSet emits StoreSetEvent if existed is false, else
// StoreUpdateEvent, so a successful mutation emits exactly one of the
// two. existed is the caller's own pre-mutation Exists(key)
// check, since only the backend knows whether to check before or after
// applying the write.
func (b *Base) EmitSet(key string, metadata map[string]interface{}, existed bool) {
	if b.Bus == nil {
		return
	}
	if existed {
		b.Bus.Emit(event.NewStoreUpdateEvent(b.Source, key, metadata), true)
		return
	}
	b.Bus.Emit(event.NewStoreSetEvent(b.Source, key, metadata), true)
}

// EmitDelete emits StoreDeleteEvent. metadata is the key's metadata as
// it was immediately before deletion.
func (b *Base) EmitDelete(key string, metadata map[string]interface{}) {
	if b.Bus == nil {
		return
	}
	b.Bus.Emit(event.NewStoreDeleteEvent(b.Source, key, metadata), true)
}

// EmitTransactionStart/EmitTransactionEnd wrap the StoreTransaction*
// events, shared across internal/txn's Dummy and Simple managers via
// this Base rather than duplicated in each.
func (b *Base) EmitTransactionStart(notes string) {
	if b.Bus == nil {
		return
	}
	b.Bus.Emit(event.NewStoreTransactionStartEvent(b.Source, notes), true)
}

func (b *Base) EmitTransactionEnd(notes string, state event.TransactionState) {
	if b.Bus == nil {
		return
	}
	b.Bus.Emit(event.NewStoreTransactionEndEvent(b.Source, notes, state), true)
}

// Lock/Unlock serialize a backend's own critical sections (e.g. a
// check-then-write against an in-memory map); exported so embedding
// backends can reuse one mutex instead of declaring their own.
func (b *Base) Lock()   { b.mu.Lock() }
func (b *Base) Unlock() { b.mu.Unlock() }

// NewReporter builds a progress.Reporter tagged with key, wired to this
// backend's own bus and source, for the Default{To,From}{File,Bytes}
// helpers to report Store-Progress events on. A nil Bus is fine — the
// Reporter's Emit calls become no-ops the same way EmitSet/EmitDelete
// already tolerate one.
func (b *Base) NewReporter(key, message string) *progress.Reporter {
	return progress.NewForKey(b.Bus, b.Source, key, progress.NewOperationID(), message)
}
