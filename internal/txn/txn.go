// Package txn implements the two Transaction managers the Store
// contract names: Dummy (for backends with no native transaction support, which
// apply writes immediately and cannot roll them back) and Simple (which
// buffers mutations and applies them in a batch on Commit, discarding
// them on Rollback). Grounded on
// original_source/encore/storage/abstract_store.py's transaction()
// context-manager doc, which spells out the event sequence every
// implementation must honor: StoreTransactionStartEvent on entry,
// StoreTransactionEndEvent on conclusion, then the individual
// StoreSetEvent/StoreDeleteEvent notifications for whatever the
// transaction actually did.
package txn

import (
	"sync"

	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/value"
)

// Dummy is a no-buffering transaction: every Set/Delete inside its
// scope has already taken effect (and already emitted its own
// StoreSetEvent/StoreUpdateEvent/StoreDeleteEvent) by the time Commit
// or Rollback runs, so both simply close out the bracketing
// StoreTransactionEndEvent. Backends with no native transaction concept
// use this — memstore and the plain (non-Locking) fsstore both do.
type Dummy struct {
	base  *store.Base
	notes string
}

// NewDummy starts a Dummy transaction, emitting StoreTransactionStartEvent.
func NewDummy(base *store.Base, notes string) *Dummy {
	d := &Dummy{base: base, notes: notes}
	base.EmitTransactionStart(notes)
	return d
}

func (d *Dummy) Commit() error {
	d.base.EmitTransactionEnd(d.notes, event.TransactionDone)
	return nil
}

func (d *Dummy) Rollback() error {
	d.base.EmitTransactionEnd(d.notes, event.TransactionFailed)
	return nil
}

// Applier is the narrow surface Simple needs from a backend to replay
// buffered operations at Commit time.
type Applier interface {
	// ApplySet performs the actual write and reports whether key
	// existed beforehand (to choose Set vs Update) and its resulting
	// metadata (for the emitted event).
	ApplySet(key string, v value.Value, bufferSize int) (existed bool, metadata map[string]interface{}, err error)
	// ApplyDelete performs the actual delete and returns the metadata
	// the key had immediately before removal.
	ApplyDelete(key string) (metadata map[string]interface{}, err error)
}

type opKind int

const (
	opSet opKind = iota
	opDelete
)

type op struct {
	kind       opKind
	key        string
	value      value.Value
	bufferSize int
}

// Simple buffers Set/Delete calls and applies them against an Applier
// only at Commit, in the order recorded; Rollback discards the buffer
// without touching the backing store. Intended for backends whose
// writes are otherwise immediate but that can stage a batch of pending
// operations cheaply (e.g. an in-memory overlay map).
type Simple struct {
	mu      sync.Mutex
	base    *store.Base
	notes   string
	applier Applier
	ops     []op
	closed  bool
}

// NewSimple starts a Simple transaction, emitting StoreTransactionStartEvent.
func NewSimple(base *store.Base, notes string, applier Applier) *Simple {
	s := &Simple{base: base, notes: notes, applier: applier}
	base.EmitTransactionStart(notes)
	return s
}

// RecordSet buffers a Set to be applied on Commit.
func (s *Simple) RecordSet(key string, v value.Value, bufferSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op{kind: opSet, key: key, value: v, bufferSize: bufferSize})
}

// RecordDelete buffers a Delete to be applied on Commit.
func (s *Simple) RecordDelete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op{kind: opDelete, key: key})
}

// Commit applies every buffered operation in order, then emits
// StoreTransactionEndEvent followed by one mutation event per applied
// operation, in order. If one fails, Commit stops, emits a failed
// StoreTransactionEndEvent, and returns that error without emitting any
// mutation event — operations already applied before the failure are not
// unwound (Simple provides ordering and batching, not atomicity;
// backends needing true atomicity use their own native transaction
// instead, e.g. sqlstore's SQL transaction).
func (s *Simple) Commit() error {
	s.mu.Lock()
	ops := s.ops
	s.ops = nil
	s.mu.Unlock()

	var emits []func()
	for _, o := range ops {
		key := o.key
		switch o.kind {
		case opSet:
			existed, metadata, err := s.applier.ApplySet(o.key, o.value, o.bufferSize)
			if err != nil {
				s.base.EmitTransactionEnd(s.notes, event.TransactionFailed)
				return err
			}
			emits = append(emits, func() { s.base.EmitSet(key, metadata, existed) })
		case opDelete:
			metadata, err := s.applier.ApplyDelete(o.key)
			if err != nil {
				s.base.EmitTransactionEnd(s.notes, event.TransactionFailed)
				return err
			}
			emits = append(emits, func() { s.base.EmitDelete(key, metadata) })
		}
	}
	s.base.EmitTransactionEnd(s.notes, event.TransactionDone)
	for _, emit := range emits {
		emit()
	}
	return nil
}

// Rollback discards every buffered operation without applying any of
// them.
func (s *Simple) Rollback() error {
	s.mu.Lock()
	s.ops = nil
	s.mu.Unlock()
	s.base.EmitTransactionEnd(s.notes, event.TransactionFailed)
	return nil
}
