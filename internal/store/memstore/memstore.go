// Package memstore implements an in-process, map-backed Store: O(1)
// get/set/delete, a linear scan over all entries for
// Query, and Dummy transactions (writes take effect immediately, so
// there is nothing to roll back). Grounded on
// internal/storage/memory's map-of-structs-plus-mutex shape, generalized
// from beads' issue records to arbitrary key/value.Value pairs.
package memstore

import (
	"fmt"
	"io"
	"time"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/txn"
	"github.com/corestash/corestash/internal/value"
)

// Store is an in-memory key-value Store. The zero value is not usable;
// construct with New.
type Store struct {
	store.Base
	entries map[string]entry
}

type entry struct {
	data     []byte
	metadata map[string]interface{}
	created  time.Time
	modified time.Time
}

// New creates an empty Store. bus may be nil to disable event emission
// (useful in tests that don't care about it).
func New(bus *event.Bus) *Store {
	s := &Store{entries: make(map[string]entry)}
	s.Base = store.NewBase(bus, s)
	return s
}

func (s *Store) Info() store.Info { return store.Info{} }

func (s *Store) Connect(credentials interface{}) error {
	s.MarkConnected()
	return nil
}

func (s *Store) Disconnect() error {
	s.MarkDisconnected()
	return nil
}

func (s *Store) Get(key string) (value.Value, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	s.Lock()
	e, ok := s.entries[key]
	s.Unlock()
	if !ok {
		return nil, errs.ErrKeyMissing
	}
	return value.NewStringValue(e.data, e.metadata, e.created, e.modified), nil
}

func (s *Store) Set(key string, v value.Value, bufferSize int) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	existed, metadata, err := s.applySet(key, v, bufferSize)
	if err != nil {
		return err
	}
	s.EmitSet(key, metadata, existed)
	return nil
}

// applySet does the actual write and reports whether key pre-existed —
// shared by Set and by txn.Simple's buffered replay (txn.Applier).
func (s *Store) applySet(key string, v value.Value, bufferSize int) (bool, map[string]interface{}, error) {
	r, err := v.Data()
	if err != nil {
		return false, nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return false, nil, err
	}

	s.Lock()
	_, existed := s.entries[key]
	created := time.Now()
	if existed {
		created = s.entries[key].created
	}
	s.entries[key] = entry{data: data, metadata: v.Metadata(), created: created, modified: time.Now()}
	metadata := s.entries[key].metadata
	s.Unlock()
	return existed, metadata, nil
}

// ApplySet satisfies txn.Applier.
func (s *Store) ApplySet(key string, v value.Value, bufferSize int) (bool, map[string]interface{}, error) {
	return s.applySet(key, v, bufferSize)
}

// ApplyDelete satisfies txn.Applier.
func (s *Store) ApplyDelete(key string) (map[string]interface{}, error) {
	s.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.Unlock()
	if !ok {
		return nil, errs.ErrKeyMissing
	}
	return e.metadata, nil
}

func (s *Store) Delete(key string) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	metadata, err := s.ApplyDelete(key)
	if err != nil {
		return err
	}
	s.EmitDelete(key, metadata)
	return nil
}

func (s *Store) Exists(key string) bool { return store.DefaultExists(s, key) }

func (s *Store) GetData(key string) ([]byte, error) { return store.DefaultGetData(s, key) }

func (s *Store) GetDataRange(key string, start, end int64) ([]byte, error) {
	return store.DefaultGetDataRange(s, key, start, end)
}

func (s *Store) GetMetadata(key string, sel []string) (map[string]interface{}, error) {
	return store.DefaultGetMetadata(s, key, sel)
}

// SetData replaces a key's data, keeping its existing metadata (an
// empty map for a brand-new key).
func (s *Store) SetData(key string, data []byte, bufferSize int) error {
	s.Lock()
	metadata := s.entries[key].metadata
	s.Unlock()
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return s.Set(key, value.NewStringValue(data, metadata, time.Time{}, time.Time{}), bufferSize)
}

// SetMetadata replaces a key's metadata wholesale, creating the key with
// empty data if it is absent.
func (s *Store) SetMetadata(key string, metadata map[string]interface{}) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	s.Lock()
	e, existed := s.entries[key]
	if !existed {
		e.created = time.Now()
	}
	e.metadata = metadata
	e.modified = time.Now()
	s.entries[key] = e
	s.Unlock()
	s.EmitSet(key, metadata, existed)
	return nil
}

func (s *Store) UpdateMetadata(key string, patch map[string]interface{}) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	s.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.Unlock()
		return errs.ErrKeyMissing
	}
	merged := make(map[string]interface{}, len(e.metadata)+len(patch))
	for k, v := range e.metadata {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	e.metadata = merged
	e.modified = time.Now()
	s.entries[key] = e
	s.Unlock()
	s.EmitSet(key, merged, true)
	return nil
}

func (s *Store) MultiGet(keys []string) ([]value.Value, []error) { return store.DefaultMultiGet(s, keys) }

func (s *Store) MultiSet(keys []string, values []value.Value, bufferSize int) []error {
	return store.DefaultMultiSet(s, keys, values, bufferSize)
}

func (s *Store) MultiGetData(keys []string) ([][]byte, []error) {
	return store.DefaultMultiGetData(s, keys)
}

func (s *Store) MultiGetMetadata(keys []string, sel []string) ([]map[string]interface{}, []error) {
	return store.DefaultMultiGetMetadata(s, keys, sel)
}

func (s *Store) MultiSetData(keys []string, datas [][]byte, bufferSize int) []error {
	return store.DefaultMultiSetData(s, keys, datas, bufferSize)
}

func (s *Store) MultiSetMetadata(keys []string, metadatas []map[string]interface{}) []error {
	return store.DefaultMultiSetMetadata(s, keys, metadatas)
}

func (s *Store) MultiUpdateMetadata(keys []string, patches []map[string]interface{}) []error {
	return store.DefaultMultiUpdateMetadata(s, keys, patches)
}

func (s *Store) Query(sel []string, match store.Match) ([]store.QueryResult, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	s.Lock()
	defer s.Unlock()
	var results []store.QueryResult
	for key, e := range s.entries {
		if match != nil && !match.Matches(e.metadata) {
			continue
		}
		results = append(results, store.QueryResult{Key: key, Metadata: selectMemMetadata(e.metadata, sel)})
	}
	return results, nil
}

func selectMemMetadata(metadata map[string]interface{}, sel []string) map[string]interface{} {
	if sel == nil {
		return metadata
	}
	out := make(map[string]interface{}, len(sel))
	for _, name := range sel {
		if v, ok := metadata[name]; ok {
			out[name] = v
		}
	}
	return out
}

func (s *Store) QueryKeys(match store.Match) ([]string, error) { return store.DefaultQueryKeys(s, match) }

func (s *Store) Glob(pattern string) ([]string, error) { return store.DefaultGlob(s, pattern) }

// Transaction returns a txn.Dummy: memstore applies writes immediately,
// so there is no staged state for Commit/Rollback to act on beyond the
// bracketing StoreTransactionStartEvent/StoreTransactionEndEvent pair.
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

