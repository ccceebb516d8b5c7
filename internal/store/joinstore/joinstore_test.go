package joinstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/store/memstore"
	"github.com/corestash/corestash/internal/value"
)

func newConnectedJoin(t *testing.T, stores ...store.Store) *Store {
	t.Helper()
	s := New(nil, stores)
	require.NoError(t, s.Connect(nil))
	t.Cleanup(func() { s.Disconnect() })
	return s
}

func TestGetReturnsFromEarliestStoreThatHasKey(t *testing.T) {
	store1 := memstore.New(nil)
	store2 := memstore.New(nil)
	require.NoError(t, store2.Connect(nil))
	require.NoError(t, store2.SetData("a", []byte("from store2"), 0))

	s := newConnectedJoin(t, store1, store2)

	v, err := s.Get("a")
	require.NoError(t, err)
	data, err := v.Data()
	require.NoError(t, err)
	defer data.Close()
	b := make([]byte, 64)
	n, _ := data.Read(b)
	assert.Equal(t, "from store2", string(b[:n]))
}

func TestGetMissingKeyAcrossAllStoresFails(t *testing.T) {
	s := newConnectedJoin(t, memstore.New(nil), memstore.New(nil))
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, errs.ErrKeyMissing)
}

func TestSetDataLandsOnFirstStore(t *testing.T) {
	store1 := memstore.New(nil)
	store2 := memstore.New(nil)
	s := newConnectedJoin(t, store1, store2)

	require.NoError(t, s.SetData("a", []byte("v"), 0))
	assert.True(t, store1.Exists("a"))
	assert.False(t, store2.Exists("a"))
}

func TestSetMetadataGoesToOwningStore(t *testing.T) {
	store1 := memstore.New(nil)
	store2 := memstore.New(nil)
	require.NoError(t, store2.Connect(nil))
	require.NoError(t, store2.Set("a", value.NewStringValue([]byte("v"), map[string]interface{}{"k": "old"}, time.Time{}, time.Time{}), 0))

	s := newConnectedJoin(t, store1, store2)
	require.NoError(t, s.SetMetadata("a", map[string]interface{}{"k": "new"}))

	md, err := store2.GetMetadata("a", nil)
	require.NoError(t, err)
	assert.Equal(t, "new", md["k"])
	assert.False(t, store1.Exists("a"))
}

func TestUpdateMetadataMergesOnOwningStore(t *testing.T) {
	store1 := memstore.New(nil)
	require.NoError(t, store1.Connect(nil))
	require.NoError(t, store1.Set("a", value.NewStringValue([]byte("v"), map[string]interface{}{"a": float64(1)}, time.Time{}, time.Time{}), 0))

	s := newConnectedJoin(t, store1, memstore.New(nil))
	require.NoError(t, s.UpdateMetadata("a", map[string]interface{}{"b": float64(2)}))

	md, err := s.GetMetadata("a", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": float64(1), "b": float64(2)}, md)
}

func TestDeleteRemovesFromOwningStore(t *testing.T) {
	store1 := memstore.New(nil)
	store2 := memstore.New(nil)
	require.NoError(t, store2.Connect(nil))
	require.NoError(t, store2.SetData("a", []byte("v"), 0))

	s := newConnectedJoin(t, store1, store2)
	require.NoError(t, s.Delete("a"))

	assert.False(t, s.Exists("a"))
	assert.False(t, store2.Exists("a"))
}

func TestDeleteMissingKeyFails(t *testing.T) {
	s := newConnectedJoin(t, memstore.New(nil))
	assert.ErrorIs(t, s.Delete("nope"), errs.ErrKeyMissing)
}

func TestQueryEarliestStoreShadowsLater(t *testing.T) {
	store1 := memstore.New(nil)
	store2 := memstore.New(nil)
	require.NoError(t, store1.Connect(nil))
	require.NoError(t, store2.Connect(nil))
	require.NoError(t, store1.Set("a", value.NewStringValue([]byte("1"), map[string]interface{}{"kind": "first"}, time.Time{}, time.Time{}), 0))
	require.NoError(t, store2.Set("a", value.NewStringValue([]byte("2"), map[string]interface{}{"kind": "second"}, time.Time{}, time.Time{}), 0))
	require.NoError(t, store2.Set("b", value.NewStringValue([]byte("3"), map[string]interface{}{"kind": "second"}, time.Time{}, time.Time{}), 0))

	s := newConnectedJoin(t, store1, store2)
	results, err := s.Query(nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byKey := map[string]store.QueryResult{}
	for _, r := range results {
		byKey[r.Key] = r
	}
	assert.Equal(t, "first", byKey["a"].Metadata["kind"])
	assert.Equal(t, "second", byKey["b"].Metadata["kind"])
}

func TestMultiSetDelegatesToFirstStore(t *testing.T) {
	store1 := memstore.New(nil)
	store2 := memstore.New(nil)
	s := newConnectedJoin(t, store1, store2)

	errsOut := s.MultiSet(
		[]string{"a", "b"},
		[]value.Value{
			value.NewStringValue([]byte("1"), nil, time.Time{}, time.Time{}),
			value.NewStringValue([]byte("2"), nil, time.Time{}, time.Time{}),
		},
		0,
	)
	for _, err := range errsOut {
		assert.NoError(t, err)
	}
	assert.True(t, store1.Exists("a"))
	assert.True(t, store1.Exists("b"))
	assert.False(t, store2.Exists("a"))
}
