// Package store defines the uniform Key-Value Store contract and the
// helpers shared across its backends:
// internal/store/memstore, fsstore, sqlstore, urlstore, joinstore, and
// mountstore. Grounded on internal/storage/provider.go's
// interface-wrapping style (naming, Info/capability flags) and on
// original_source/encore/storage/abstract_store.py for the exact
// operation set and its composite-defaults structure (get_data,
// multiget, glob, to_file, ... all expressed atop a handful of
// primitives — here as Default* helper functions over the Store
// interface rather than an abstract base class, since Go has no
// inheritance).
package store

import (
	"path/filepath"

	"github.com/corestash/corestash/internal/value"
)

// Info describes a store's capabilities: the readonly and authorizing
// flags a backend declares via its Info method.
type Info struct {
	Readonly    bool
	Authorizing bool
}

// Match is a set of exact metadata-field equality constraints used by
// Query/QueryKeys: an entry matches only if its metadata contains every
// name-value pair in m.
type Match map[string]interface{}

// Matches reports whether metadata satisfies every constraint in m.
func (m Match) Matches(metadata map[string]interface{}) bool {
	for k, want := range m {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// QueryResult pairs a key with its metadata, as returned by Query.
type QueryResult struct {
	Key      string
	Metadata map[string]interface{}
}

// Store is the full operation set every concrete backend implements.
// Backends lacking native support for a composite
// operation (multiget, glob, to_file, ...) typically implement it by
// delegating to the corresponding Default* helper in this package.
type Store interface {
	Info() Info

	Connect(credentials interface{}) error
	Disconnect() error
	IsConnected() bool

	Get(key string) (value.Value, error)
	Set(key string, v value.Value, bufferSize int) error
	Delete(key string) error
	Exists(key string) bool

	GetData(key string) ([]byte, error)
	GetDataRange(key string, start, end int64) ([]byte, error)
	GetMetadata(key string, sel []string) (map[string]interface{}, error)
	SetData(key string, data []byte, bufferSize int) error
	SetMetadata(key string, metadata map[string]interface{}) error
	UpdateMetadata(key string, patch map[string]interface{}) error

	MultiGet(keys []string) ([]value.Value, []error)
	MultiSet(keys []string, values []value.Value, bufferSize int) []error
	MultiGetData(keys []string) ([][]byte, []error)
	MultiGetMetadata(keys []string, sel []string) ([]map[string]interface{}, []error)
	MultiSetData(keys []string, datas [][]byte, bufferSize int) []error
	MultiSetMetadata(keys []string, metadatas []map[string]interface{}) []error
	MultiUpdateMetadata(keys []string, patches []map[string]interface{}) []error

	Query(sel []string, match Match) ([]QueryResult, error)
	QueryKeys(match Match) ([]string, error)
	Glob(pattern string) ([]string, error)

	Transaction(notes string) (Transaction, error)

	ToFile(key, path string) error
	FromFile(path, key string) error
	ToBytes(key string) ([]byte, error)
	FromBytes(key string, data []byte) error
}

// Transaction is the scoped resource returned by Store.Transaction; see
// internal/txn for the two concrete implementations (Dummy and Simple)
// wired into each backend.
type Transaction interface {
	// Commit commits the transaction. Nested transactions are not
	// tracked: each Transaction commits or rolls back on its own, and a
	// backend may refuse to open a second one while one is open
	// (sqlstore does).
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error
}

// selectFields restricts metadata to the named fields, silently
// dropping names that aren't present. A nil sel returns metadata
// unchanged.
func selectFields(metadata map[string]interface{}, sel []string) map[string]interface{} {
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

// globMatch reports whether key matches a shell-style glob pattern,
// over the key string only.
func globMatch(pattern, key string) bool {
	ok, err := filepath.Match(pattern, key)
	return err == nil && ok
}
