package fsstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/filelock"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/value"
)

// Locking wraps Store with a per-key advisory file lock guarding every
// mutation, plus a transaction that defers writes until Commit instead
// of applying them immediately — grounded on
// original_source/encore/storage/locking_filesystem_store.py's
// `transact`/`locking` decorator pair. As in the original, two
// transactions touching the same keys in different orders can
// deadlock on each other's locks; the original's docstring carries the
// same warning rather than a fix.
type Locking struct {
	*Store
	forceTimeout time.Duration

	mu  sync.Mutex
	txn *lockingTxn // non-nil while a transaction is open
}

// NewLocking constructs a Locking store. forceTimeout bounds how long a
// per-key lock acquisition waits before forcing the stale lock open
// (original_source's force_lock_timeout, default 10s there).
func NewLocking(bus *event.Bus, root, marker string, forceTimeout time.Duration) *Locking {
	if forceTimeout <= 0 {
		forceTimeout = 10 * time.Second
	}
	return &Locking{Store: New(bus, root, marker), forceTimeout: forceTimeout}
}

func (l *Locking) lockFor(key string) *filelock.Lock {
	return filelock.New(l.metadataPath(key)+".lock", filelock.WithForceTimeout(l.forceTimeout))
}

func (l *Locking) withLock(key string, fn func() error) error {
	lk := l.lockFor(key)
	if _, err := lk.Acquire(); err != nil {
		return err
	}
	defer lk.Release()
	return fn()
}

// inTransaction reports the currently open transaction, if any.
func (l *Locking) inTransaction() *lockingTxn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txn
}

func (l *Locking) Get(key string) (value.Value, error) {
	var v value.Value
	err := l.withLock(key, func() error {
		var err error
		v, err = l.Store.Get(key)
		return err
	})
	return v, err
}

func (l *Locking) GetMetadata(key string, sel []string) (map[string]interface{}, error) {
	var md map[string]interface{}
	err := l.withLock(key, func() error {
		var err error
		md, err = l.Store.GetMetadata(key, sel)
		return err
	})
	return md, err
}

func (l *Locking) GetData(key string) ([]byte, error) { return store.DefaultGetData(l, key) }

func (l *Locking) GetDataRange(key string, start, end int64) ([]byte, error) {
	return store.DefaultGetDataRange(l, key, start, end)
}

// Set applies immediately (locked) outside a transaction, or is
// buffered for Commit when one is open — original_source's
// `transact(locking(...))` with on_commit=False for writes.
func (l *Locking) Set(key string, v value.Value, bufferSize int) error {
	if t := l.inTransaction(); t != nil {
		t.record(func() error { return l.withLock(key, func() error { return l.Store.Set(key, v, bufferSize) }) })
		return nil
	}
	return l.withLock(key, func() error { return l.Store.Set(key, v, bufferSize) })
}

func (l *Locking) Delete(key string) error {
	if t := l.inTransaction(); t != nil {
		t.record(func() error { return l.withLock(key, func() error { return l.Store.Delete(key) }) })
		return nil
	}
	return l.withLock(key, func() error { return l.Store.Delete(key) })
}

func (l *Locking) SetData(key string, data []byte, bufferSize int) error {
	if t := l.inTransaction(); t != nil {
		t.record(func() error { return l.withLock(key, func() error { return l.Store.SetData(key, data, bufferSize) }) })
		return nil
	}
	return l.withLock(key, func() error { return l.Store.SetData(key, data, bufferSize) })
}

func (l *Locking) SetMetadata(key string, metadata map[string]interface{}) error {
	if t := l.inTransaction(); t != nil {
		t.record(func() error { return l.withLock(key, func() error { return l.Store.SetMetadata(key, metadata) }) })
		return nil
	}
	return l.withLock(key, func() error { return l.Store.SetMetadata(key, metadata) })
}

func (l *Locking) UpdateMetadata(key string, patch map[string]interface{}) error {
	if t := l.inTransaction(); t != nil {
		t.record(func() error { return l.withLock(key, func() error { return l.Store.UpdateMetadata(key, patch) }) })
		return nil
	}
	return l.withLock(key, func() error { return l.Store.UpdateMetadata(key, patch) })
}

func (l *Locking) MultiGet(keys []string) ([]value.Value, []error) { return store.DefaultMultiGet(l, keys) }
func (l *Locking) MultiSet(keys []string, values []value.Value, bufferSize int) []error {
	return store.DefaultMultiSet(l, keys, values, bufferSize)
}
func (l *Locking) MultiGetData(keys []string) ([][]byte, []error) {
	return store.DefaultMultiGetData(l, keys)
}
func (l *Locking) MultiGetMetadata(keys []string, sel []string) ([]map[string]interface{}, []error) {
	return store.DefaultMultiGetMetadata(l, keys, sel)
}
func (l *Locking) MultiSetData(keys []string, datas [][]byte, bufferSize int) []error {
	return store.DefaultMultiSetData(l, keys, datas, bufferSize)
}
func (l *Locking) MultiSetMetadata(keys []string, metadatas []map[string]interface{}) []error {
	return store.DefaultMultiSetMetadata(l, keys, metadatas)
}
func (l *Locking) MultiUpdateMetadata(keys []string, patches []map[string]interface{}) []error {
	return store.DefaultMultiUpdateMetadata(l, keys, patches)
}

func (l *Locking) ToFile(key, path string) error {
	return store.DefaultToFile(l, key, path, l.NewReporter(key, fmt.Sprintf("saving key %q to file %q", key, path)))
}

func (l *Locking) FromFile(path, key string) error {
	return store.DefaultFromFile(l, path, key, l.NewReporter(key, fmt.Sprintf("loading key %q from file %q", key, path)))
}

func (l *Locking) ToBytes(key string) ([]byte, error) {
	return store.DefaultToBytes(l, key, l.NewReporter(key, fmt.Sprintf("reading key %q into memory", key)))
}

func (l *Locking) FromBytes(key string, data []byte) error {
	return store.DefaultFromBytes(l, key, data, l.NewReporter(key, fmt.Sprintf("writing key %q from memory", key)))
}

// lockingTxn buffers write thunks (each already capturing its own
// per-key lock acquisition) to run in order at Commit.
type lockingTxn struct {
	owner *Locking
	notes string
	mu    sync.Mutex
	ops   []func() error
}

func (t *lockingTxn) record(op func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, op)
}

func (t *lockingTxn) Commit() error {
	t.owner.mu.Lock()
	t.owner.txn = nil
	t.owner.mu.Unlock()

	t.owner.Base.EmitTransactionEnd(t.notes, commitState(t))
	return nil
}

func commitState(t *lockingTxn) event.TransactionState {
	t.mu.Lock()
	ops := t.ops
	t.mu.Unlock()
	for _, op := range ops {
		if err := op(); err != nil {
			return event.TransactionFailed
		}
	}
	return event.TransactionDone
}

func (t *lockingTxn) Rollback() error {
	t.owner.mu.Lock()
	t.owner.txn = nil
	t.owner.mu.Unlock()
	t.mu.Lock()
	t.ops = nil
	t.mu.Unlock()
	t.owner.Base.EmitTransactionEnd(t.notes, event.TransactionFailed)
	return nil
}

// Transaction opens a buffering transaction: writes recorded during its
// scope run (each still under its own per-key lock) only at Commit, in
// the order they were made, and not at all on Rollback. Only one
// transaction may be open on a Locking store at a time, matching
// original_source's single `self._transaction` field.
func (l *Locking) Transaction(notes string) (store.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := &lockingTxn{owner: l, notes: notes}
	l.txn = t
	l.Base.EmitTransactionStart(notes)
	return t, nil
}
