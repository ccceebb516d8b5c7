package sqlstore

import (
	"database/sql"
	"errors"
	"sync"

	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
)

// errTransactionOpen is returned by Transaction when one is already in
// flight; sqlite only usefully supports one writer transaction at a
// time per connection, and this Store uses a single connection
// (MaxOpenConns(1)), same as internal/storage/ephemeral.
var errTransactionOpen = errors.New("sqlstore: transaction already open")

// sqlTxn wraps a real *sql.Tx. Mutation events raised while it's open
// are deferred until Commit succeeds, matching original_source's
// set()/delete()/etc emitting only after their
// `with self.transaction(...)` block exits.
type sqlTxn struct {
	store *Store
	tx    *sql.Tx
	notes string

	mu      sync.Mutex
	pending []func()
}

// Transaction opens a native sqlite transaction. Only one may be open
// on a Store at a time (see errTransactionOpen); Default* batch helpers
// in internal/store rely on this to wrap MultiSet et al. atomically.
func (s *Store) Transaction(notes string) (store.Transaction, error) {
	s.mu.Lock()
	if s.txn != nil {
		s.mu.Unlock()
		return nil, errTransactionOpen
	}
	s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	t := &sqlTxn{store: s, tx: tx, notes: notes}

	s.mu.Lock()
	s.txn = t
	s.mu.Unlock()

	s.EmitTransactionStart(notes)
	return t, nil
}

func (t *sqlTxn) Commit() error {
	err := t.tx.Commit()

	t.store.mu.Lock()
	t.store.txn = nil
	t.store.mu.Unlock()

	state := event.TransactionDone
	if err != nil {
		state = event.TransactionFailed
	}
	t.store.EmitTransactionEnd(t.notes, state)

	if err == nil {
		t.mu.Lock()
		pending := t.pending
		t.mu.Unlock()
		for _, emit := range pending {
			emit()
		}
	}
	return err
}

func (t *sqlTxn) Rollback() error {
	err := t.tx.Rollback()

	t.store.mu.Lock()
	t.store.txn = nil
	t.store.mu.Unlock()

	t.store.EmitTransactionEnd(t.notes, event.TransactionFailed)
	return err
}

// runAndEmit executes op against either the currently open external
// transaction (deferring emit until its Commit) or an ad hoc
// transaction scoped to this single call (committing immediately and
// emitting right away), mirroring original_source's per-operation
// `with self.transaction(notes):` blocks.
func (s *Store) runAndEmit(op func(tx *sql.Tx) error, emit func()) error {
	s.mu.Lock()
	ext := s.txn
	s.mu.Unlock()

	if ext != nil {
		if err := op(ext.tx); err != nil {
			return err
		}
		ext.mu.Lock()
		ext.pending = append(ext.pending, emit)
		ext.mu.Unlock()
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := op(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	emit()
	return nil
}
