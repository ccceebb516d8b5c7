// Package joinstore implements Store, a composite that joins several
// backing stores into one: the key space it presents is their union,
// and when a key exists in more than one backing store, the store
// earliest in the list wins. Grounded on
// original_source/encore/storage/joined_store.py.
//
// The original takes no event_manager at all — JoinedStore.__init__
// only accepts the list of stores, and its transaction() returns a
// DummyTransactionContext that emits nothing. This port still wires a
// *event.Bus through Base, same as every other backend, so
// Transaction still brackets with StoreTransactionStartEvent/
// StoreTransactionEndEvent; the individual StoreSetEvent/
// StoreUpdateEvent/StoreDeleteEvent for a given mutation come from
// whichever backing store actually performed it (assuming the usual
// setup of one shared bus across a Store graph), so Set/Delete below
// never re-emit on top of what the delegate already emitted.
package joinstore

import (
	"errors"
	"fmt"
	"io"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/txn"
	"github.com/corestash/corestash/internal/value"
)

// Store joins stores, presenting their union with earliest-wins
// priority on both key shadowing and writes.
type Store struct {
	store.Base
	stores []store.Store
}

// New constructs a Store over stores, in priority order.
func New(bus *event.Bus, stores []store.Store) *Store {
	s := &Store{stores: stores}
	s.Base = store.NewBase(bus, s)
	return s
}

func (s *Store) Info() store.Info { return store.Info{Readonly: false} }

// Connect connects every backing store not already connected, passing
// the same credentials to each.
func (s *Store) Connect(credentials interface{}) error {
	for _, sub := range s.stores {
		if !sub.IsConnected() {
			if err := sub.Connect(credentials); err != nil {
				return err
			}
		}
	}
	s.MarkConnected()
	return nil
}

// Disconnect disconnects every backing store. original_source's
// disconnect() instead discards self.stores entirely without
// disconnecting any of them — not reproduced here, since that would
// leak every backing store's resources and make the Store unusable
// even across a later Connect; disconnecting each one properly while
// keeping the slice intact is supplemented behavior.
func (s *Store) Disconnect() error {
	var firstErr error
	for _, sub := range s.stores {
		if err := sub.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.MarkDisconnected()
	return firstErr
}

// firstWith returns the earliest backing store that has key, or nil.
func (s *Store) firstWith(key string) store.Store {
	for _, sub := range s.stores {
		if sub.Exists(key) {
			return sub
		}
	}
	return nil
}

func (s *Store) Get(key string) (value.Value, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	sub := s.firstWith(key)
	if sub == nil {
		return nil, errs.ErrKeyMissing
	}
	return sub.Get(key)
}

func (s *Store) Exists(key string) bool {
	return s.firstWith(key) != nil
}

func (s *Store) GetData(key string) ([]byte, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	sub := s.firstWith(key)
	if sub == nil {
		return nil, errs.ErrKeyMissing
	}
	return sub.GetData(key)
}

func (s *Store) GetDataRange(key string, start, end int64) ([]byte, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	sub := s.firstWith(key)
	if sub == nil {
		return nil, errs.ErrKeyMissing
	}
	return sub.GetDataRange(key, start, end)
}

func (s *Store) GetMetadata(key string, sel []string) (map[string]interface{}, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	sub := s.firstWith(key)
	if sub == nil {
		return nil, errs.ErrKeyMissing
	}
	return sub.GetMetadata(key, sel)
}

// Delete removes key from the earliest backing store that has it.
func (s *Store) Delete(key string) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	sub := s.firstWith(key)
	if sub == nil {
		return errs.ErrKeyMissing
	}
	return sub.Delete(key)
}

// Set wraps SetData then SetMetadata in a transaction, matching
// original_source's set().
func (s *Store) Set(key string, v value.Value, bufferSize int) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	tx, err := s.Transaction(fmt.Sprintf("joinstore: set %q", key))
	if err != nil {
		return err
	}
	r, err := v.Data()
	if err != nil {
		tx.Rollback()
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := s.SetData(key, data, bufferSize); err != nil {
		tx.Rollback()
		return err
	}
	if err := s.SetMetadata(key, v.Metadata()); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SetData tries each backing store in turn, skipping past one that
// reports ErrKeyMissing (it doesn't own this key's namespace — e.g. a
// mounted sub-store) and propagating any other error immediately,
// matching original_source's set_data try/except KeyError loop.
func (s *Store) SetData(key string, data []byte, bufferSize int) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	for _, sub := range s.stores {
		err := sub.SetData(key, data, bufferSize)
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrKeyMissing) {
			continue
		}
		return err
	}
	return errs.ErrKeyMissing
}

// SetMetadata replaces metadata on the earliest backing store that
// already has key.
func (s *Store) SetMetadata(key string, metadata map[string]interface{}) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	sub := s.firstWith(key)
	if sub == nil {
		return errs.ErrKeyMissing
	}
	return sub.SetMetadata(key, metadata)
}

// UpdateMetadata merges patch onto key's current metadata and writes
// the result back via SetMetadata, matching original_source's
// update_metadata (a get + dict.update + set_metadata, not delegated to
// any one backing store's own UpdateMetadata).
func (s *Store) UpdateMetadata(key string, patch map[string]interface{}) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	if len(s.stores) == 0 {
		return errs.ErrKeyMissing
	}
	current, err := s.GetMetadata(key, nil)
	if err != nil {
		return err
	}
	merged := make(map[string]interface{}, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return s.SetMetadata(key, merged)
}

func minLen(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func missingErrors(n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = errs.ErrKeyMissing
	}
	return out
}

func (s *Store) MultiGet(keys []string) ([]value.Value, []error) { return store.DefaultMultiGet(s, keys) }
func (s *Store) MultiGetData(keys []string) ([][]byte, []error) {
	return store.DefaultMultiGetData(s, keys)
}
func (s *Store) MultiGetMetadata(keys []string, sel []string) ([]map[string]interface{}, []error) {
	return store.DefaultMultiGetMetadata(s, keys, sel)
}

// MultiSet/MultiSetData/MultiSetMetadata/MultiUpdateMetadata delegate
// entirely to the first backing store, matching original_source's
// "if self.stores: self.stores[0].multiset(...)".
func (s *Store) MultiSet(keys []string, values []value.Value, bufferSize int) []error {
	if len(s.stores) == 0 {
		return missingErrors(minLen(len(keys), len(values)))
	}
	return s.stores[0].MultiSet(keys, values, bufferSize)
}

func (s *Store) MultiSetData(keys []string, datas [][]byte, bufferSize int) []error {
	if len(s.stores) == 0 {
		return missingErrors(minLen(len(keys), len(datas)))
	}
	return s.stores[0].MultiSetData(keys, datas, bufferSize)
}

func (s *Store) MultiSetMetadata(keys []string, metadatas []map[string]interface{}) []error {
	if len(s.stores) == 0 {
		return missingErrors(minLen(len(keys), len(metadatas)))
	}
	return s.stores[0].MultiSetMetadata(keys, metadatas)
}

func (s *Store) MultiUpdateMetadata(keys []string, patches []map[string]interface{}) []error {
	if len(s.stores) == 0 {
		return missingErrors(minLen(len(keys), len(patches)))
	}
	return s.stores[0].MultiUpdateMetadata(keys, patches)
}

// Query runs sel/match against every backing store in order, dropping
// any hit whose key an earlier store already owns (that earlier store's
// own pass over the same query already yielded it, or would have had it
// matched — either way, the earlier store shadows this one for that
// key), matching original_source's query() generator.
func (s *Store) Query(sel []string, match store.Match) ([]store.QueryResult, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	var results []store.QueryResult
	for i, sub := range s.stores {
		subResults, err := sub.Query(sel, match)
		if err != nil {
			return nil, err
		}
		for _, r := range subResults {
			if s.shadowedByEarlier(i, r.Key) {
				continue
			}
			results = append(results, r)
		}
	}
	return results, nil
}

func (s *Store) shadowedByEarlier(i int, key string) bool {
	for _, earlier := range s.stores[:i] {
		if earlier.Exists(key) {
			return true
		}
	}
	return false
}

func (s *Store) QueryKeys(match store.Match) ([]string, error) { return store.DefaultQueryKeys(s, match) }
func (s *Store) Glob(pattern string) ([]string, error)         { return store.DefaultGlob(s, pattern) }

func (s *Store) Transaction(notes string) (store.Transaction, error) {
	return txn.NewDummy(&s.Base, notes), nil
}

func (s *Store) ToFile(key, path string) error {
	return store.DefaultToFile(s, key, path, s.NewReporter(key, fmt.Sprintf("saving key %q to file %q", key, path)))
}

func (s *Store) FromFile(path, key string) error {
	return store.DefaultFromFile(s, path, key, s.NewReporter(key, fmt.Sprintf("loading key %q from file %q", key, path)))
}

func (s *Store) ToBytes(key string) ([]byte, error) {
	return store.DefaultToBytes(s, key, s.NewReporter(key, fmt.Sprintf("reading key %q into memory", key)))
}

func (s *Store) FromBytes(key string, data []byte) error {
	return store.DefaultFromBytes(s, key, data, s.NewReporter(key, fmt.Sprintf("writing key %q from memory", key)))
}
