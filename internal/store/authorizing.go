package store

import (
	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/value"
)

// Checker decides whether op (e.g. "get", "set", "delete", "exists")
// is permitted against key. A non-nil return denies the operation.
type Checker func(key, op string) error

// Authorizing wraps a backing Store with a per-operation permission
// check, grounded on
// original_source/encore/storage/simple_auth_store.py's
// SimpleAuthStore — there hard-wired to a single shared-secret token
// looked up via the store itself; generalized here to an arbitrary
// Checker so callers can plug in their own authorization source.
type Authorizing struct {
	backing Store
	check   Checker
}

// NewAuthorizing wraps backing so every key-bearing operation
// consults check first, surfacing errs.ErrPermissionDenied when it
// refuses.
func NewAuthorizing(backing Store, check Checker) *Authorizing {
	return &Authorizing{backing: backing, check: check}
}

func (a *Authorizing) authorize(key, op string) error {
	if err := a.check(key, op); err != nil {
		return errs.PermissionDenied(key, op)
	}
	return nil
}

func (a *Authorizing) Info() Info {
	info := a.backing.Info()
	info.Authorizing = true
	return info
}

func (a *Authorizing) Connect(credentials interface{}) error { return a.backing.Connect(credentials) }
func (a *Authorizing) Disconnect() error                     { return a.backing.Disconnect() }
func (a *Authorizing) IsConnected() bool                      { return a.backing.IsConnected() }

func (a *Authorizing) Get(key string) (value.Value, error) {
	if err := a.authorize(key, "get"); err != nil {
		return nil, err
	}
	return a.backing.Get(key)
}

func (a *Authorizing) Set(key string, v value.Value, bufferSize int) error {
	if err := a.authorize(key, "set"); err != nil {
		return err
	}
	return a.backing.Set(key, v, bufferSize)
}

func (a *Authorizing) Delete(key string) error {
	if err := a.authorize(key, "delete"); err != nil {
		return err
	}
	return a.backing.Delete(key)
}

// Exists mirrors SimpleAuthStore.exists: a denied key is reported as
// absent instead of surfacing a permission error.
func (a *Authorizing) Exists(key string) bool {
	if a.authorize(key, "exists") != nil {
		return false
	}
	return a.backing.Exists(key)
}

func (a *Authorizing) GetData(key string) ([]byte, error) { return DefaultGetData(a, key) }
func (a *Authorizing) GetDataRange(key string, start, end int64) ([]byte, error) {
	return DefaultGetDataRange(a, key, start, end)
}

func (a *Authorizing) GetMetadata(key string, sel []string) (map[string]interface{}, error) {
	if err := a.authorize(key, "get"); err != nil {
		return nil, err
	}
	return a.backing.GetMetadata(key, sel)
}

func (a *Authorizing) SetData(key string, data []byte, bufferSize int) error {
	if err := a.authorize(key, "set"); err != nil {
		return err
	}
	return a.backing.SetData(key, data, bufferSize)
}

func (a *Authorizing) SetMetadata(key string, metadata map[string]interface{}) error {
	if err := a.authorize(key, "set"); err != nil {
		return err
	}
	return a.backing.SetMetadata(key, metadata)
}

func (a *Authorizing) UpdateMetadata(key string, patch map[string]interface{}) error {
	if err := a.authorize(key, "set"); err != nil {
		return err
	}
	return a.backing.UpdateMetadata(key, patch)
}

func (a *Authorizing) MultiGet(keys []string) ([]value.Value, []error) {
	return DefaultMultiGet(a, keys)
}
func (a *Authorizing) MultiSet(keys []string, values []value.Value, bufferSize int) []error {
	return DefaultMultiSet(a, keys, values, bufferSize)
}
func (a *Authorizing) MultiGetData(keys []string) ([][]byte, []error) {
	return DefaultMultiGetData(a, keys)
}
func (a *Authorizing) MultiGetMetadata(keys []string, sel []string) ([]map[string]interface{}, []error) {
	return DefaultMultiGetMetadata(a, keys, sel)
}
func (a *Authorizing) MultiSetData(keys []string, datas [][]byte, bufferSize int) []error {
	return DefaultMultiSetData(a, keys, datas, bufferSize)
}
func (a *Authorizing) MultiSetMetadata(keys []string, metadatas []map[string]interface{}) []error {
	return DefaultMultiSetMetadata(a, keys, metadatas)
}
func (a *Authorizing) MultiUpdateMetadata(keys []string, patches []map[string]interface{}) []error {
	return DefaultMultiUpdateMetadata(a, keys, patches)
}

// Query and QueryKeys delegate straight to the backing store: the
// result set comes from the backend's own index scan, not a single
// key, so there's nothing to authorize against up front.
func (a *Authorizing) Query(sel []string, match Match) ([]QueryResult, error) {
	return a.backing.Query(sel, match)
}
func (a *Authorizing) QueryKeys(match Match) ([]string, error) { return a.backing.QueryKeys(match) }
func (a *Authorizing) Glob(pattern string) ([]string, error)   { return a.backing.Glob(pattern) }

func (a *Authorizing) Transaction(notes string) (Transaction, error) {
	return a.backing.Transaction(notes)
}

func (a *Authorizing) ToFile(key, path string) error {
	if err := a.authorize(key, "get"); err != nil {
		return err
	}
	return a.backing.ToFile(key, path)
}

func (a *Authorizing) FromFile(path, key string) error {
	if err := a.authorize(key, "set"); err != nil {
		return err
	}
	return a.backing.FromFile(path, key)
}

func (a *Authorizing) ToBytes(key string) ([]byte, error) {
	if err := a.authorize(key, "get"); err != nil {
		return nil, err
	}
	return a.backing.ToBytes(key)
}

func (a *Authorizing) FromBytes(key string, data []byte) error {
	if err := a.authorize(key, "set"); err != nil {
		return err
	}
	return a.backing.FromBytes(key, data)
}
