// Package mountstore implements Store, which mounts one store at a key
// prefix within another's key space: keys beginning with that prefix
// are served — and are the only ones ever written — by the mounted
// store, with the prefix stripped; every other key is served read-only
// from the backing store, under its full key. Typical use is a local
// cache of a subsection of a remote store (a urlstore.Static or
// urlstore.Dynamic) sitting in front of it. Grounded on
// original_source/encore/storage/mounted_store.py.
package mountstore

import (
	"fmt"
	"io"
	"strings"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/value"
)

// Store is the mount point itself.
type Store struct {
	store.Base
	mountPoint   string
	mountStore   store.Store
	backingStore store.Store
}

// New constructs a Store mounting mountStore at mountPoint within
// backingStore.
func New(bus *event.Bus, mountPoint string, mountStore, backingStore store.Store) *Store {
	s := &Store{mountPoint: mountPoint, mountStore: mountStore, backingStore: backingStore}
	s.Base = store.NewBase(bus, s)
	return s
}

func (s *Store) Info() store.Info { return store.Info{Readonly: false} }

func (s *Store) Connect(credentials interface{}) error {
	for _, sub := range [2]store.Store{s.mountStore, s.backingStore} {
		if !sub.IsConnected() {
			if err := sub.Connect(credentials); err != nil {
				return err
			}
		}
	}
	s.MarkConnected()
	return nil
}

// Disconnect disconnects both the mount and backing stores.
// original_source's disconnect() instead discards both references
// without disconnecting either — not reproduced here, for the same
// resource-leak reason as joinstore.Store.Disconnect.
func (s *Store) Disconnect() error {
	err1 := s.mountStore.Disconnect()
	err2 := s.backingStore.Disconnect()
	s.MarkDisconnected()
	if err1 != nil {
		return err1
	}
	return err2
}

// split reports key with mountPoint stripped, and whether key actually
// falls under mountPoint.
func (s *Store) split(key string) (shortKey string, mounted bool) {
	if strings.HasPrefix(key, s.mountPoint) {
		return key[len(s.mountPoint):], true
	}
	return "", false
}

// Get tries the mount store first (under the stripped key), falling
// back to the backing store under the full key — even for a
// mount-point-prefixed key whose mounted copy hasn't been promoted yet.
func (s *Store) Get(key string) (value.Value, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	if short, mounted := s.split(key); mounted && s.mountStore.Exists(short) {
		return s.mountStore.Get(short)
	}
	if s.backingStore.Exists(key) {
		return s.backingStore.Get(key)
	}
	return nil, errs.ErrKeyMissing
}

func (s *Store) Exists(key string) bool { return store.DefaultExists(s, key) }

func (s *Store) GetData(key string) ([]byte, error) { return store.DefaultGetData(s, key) }
func (s *Store) GetDataRange(key string, start, end int64) ([]byte, error) {
	return store.DefaultGetDataRange(s, key, start, end)
}
func (s *Store) GetMetadata(key string, sel []string) (map[string]interface{}, error) {
	return store.DefaultGetMetadata(s, key, sel)
}

// promote copies key's current value from the backing store into the
// mount store under shortKey, if the mount store doesn't already have
// it and the backing store does — original_source's copy-on-write,
// repeated identically ahead of set_data/set_metadata/update_metadata.
func (s *Store) promote(key, shortKey string) error {
	if s.mountStore.Exists(shortKey) {
		return nil
	}
	if !s.backingStore.Exists(key) {
		return nil
	}
	v, err := s.backingStore.Get(key)
	if err != nil {
		return err
	}
	return s.mountStore.Set(shortKey, v, 0)
}

func (s *Store) setDataShort(key, short string, data []byte, bufferSize int) error {
	if err := s.promote(key, short); err != nil {
		return err
	}
	return s.mountStore.SetData(short, data, bufferSize)
}

func (s *Store) setMetadataShort(key, short string, metadata map[string]interface{}) error {
	if err := s.promote(key, short); err != nil {
		return err
	}
	return s.mountStore.SetMetadata(short, metadata)
}

// Set writes metadata then data, in that order — matching
// AbstractStore's default set(), which original_source's
// MountedStore.set() falls back to via super().set(). Whichever of the
// two runs first performs the copy-on-write promotion; the second is a
// no-op there since the mount store already has the key by then.
func (s *Store) Set(key string, v value.Value, bufferSize int) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	short, mounted := s.split(key)
	if !mounted {
		return errs.ErrKeyMissing
	}

	tx, err := s.Transaction(fmt.Sprintf("mountstore: set %q", key))
	if err != nil {
		return err
	}
	if err := s.setMetadataShort(key, short, v.Metadata()); err != nil {
		tx.Rollback()
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
	if err := s.setDataShort(key, short, data, bufferSize); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) SetData(key string, data []byte, bufferSize int) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	short, mounted := s.split(key)
	if !mounted {
		return errs.ErrKeyMissing
	}
	return s.setDataShort(key, short, data, bufferSize)
}

func (s *Store) SetMetadata(key string, metadata map[string]interface{}) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	short, mounted := s.split(key)
	if !mounted {
		return errs.ErrKeyMissing
	}
	return s.setMetadataShort(key, short, metadata)
}

func (s *Store) UpdateMetadata(key string, patch map[string]interface{}) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	short, mounted := s.split(key)
	if !mounted {
		return errs.ErrKeyMissing
	}
	if err := s.promote(key, short); err != nil {
		return err
	}
	return s.mountStore.UpdateMetadata(short, patch)
}

// Delete only ever removes a key from the mount store — the backing
// store is treated as read-only, matching original_source's delete().
func (s *Store) Delete(key string) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	short, mounted := s.split(key)
	if mounted && s.mountStore.Exists(short) {
		return s.mountStore.Delete(short)
	}
	return errs.ErrKeyMissing
}

// Push moves key from the mount store to the backing store, under its
// full key — original_source's push().
func (s *Store) Push(key string) error {
	if err := s.RequireConnected(); err != nil {
		return err
	}
	short, mounted := s.split(key)
	if !mounted {
		return errs.ErrKeyMissing
	}
	v, err := s.mountStore.Get(short)
	if err != nil {
		return err
	}
	if err := s.backingStore.Set(key, v, 0); err != nil {
		return err
	}
	return s.mountStore.Delete(short)
}

func (s *Store) MultiGet(keys []string) ([]value.Value, []error) { return store.DefaultMultiGet(s, keys) }

// MultiSet and its siblings are composed from the per-key methods
// above (via the Default* helpers) rather than delegated wholesale to
// either backing store, so prefix rewriting and copy-on-write apply
// uniformly to every key in the batch — the resolution recorded for
// original_source's ambiguous Multiset behavior (it isn't overridden
// there at all, so this matches what AbstractStore's own default would
// do).
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

// Query prepends mountPoint to every key the mount store yields, then
// appends whatever the backing store yields that wasn't already
// covered — original_source's query().
func (s *Store) Query(sel []string, match store.Match) ([]store.QueryResult, error) {
	if err := s.RequireConnected(); err != nil {
		return nil, err
	}
	mounted, err := s.mountStore.Query(sel, match)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(mounted))
	results := make([]store.QueryResult, 0, len(mounted))
	for _, r := range mounted {
		fullKey := s.mountPoint + r.Key
		results = append(results, store.QueryResult{Key: fullKey, Metadata: r.Metadata})
		seen[fullKey] = true
	}

	backing, err := s.backingStore.Query(sel, match)
	if err != nil {
		return nil, err
	}
	for _, r := range backing {
		if !seen[r.Key] {
			results = append(results, r)
		}
	}
	return results, nil
}

// QueryKeys is composed atop Query rather than mirroring
// original_source's separately-generated query_keys — an equivalent,
// simpler result (same simplification already used by sqlstore.Query).
func (s *Store) QueryKeys(match store.Match) ([]string, error) { return store.DefaultQueryKeys(s, match) }
func (s *Store) Glob(pattern string) ([]string, error)         { return store.DefaultGlob(s, pattern) }

// Transaction delegates entirely to the mount store — original_source's
// transaction() does the same, since every write lands there.
func (s *Store) Transaction(notes string) (store.Transaction, error) {
	return s.mountStore.Transaction(notes)
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
