package memstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/value"
)

func connected(t *testing.T, bus *event.Bus) *Store {
	t.Helper()
	s := New(bus)
	require.NoError(t, s.Connect(nil))
	return s
}

func TestGetBeforeConnectFails(t *testing.T) {
	s := New(nil)
	_, err := s.Get("k")
	assert.ErrorIs(t, err, errs.ErrNotConnected)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	s := connected(t, nil)
	require.NoError(t, s.SetData("k", []byte("hello"), 0))

	data, err := s.GetData("k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestGetMissingKeyFails(t *testing.T) {
	s := connected(t, nil)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, errs.ErrKeyMissing)
}

func TestSetEmitsSetThenUpdateEvent(t *testing.T) {
	bus := event.New(nil)
	var classes []string
	bus.Connect(event.ClassStoreMutationEvent, "w", func(e event.Event) {
		classes = append(classes, e.Class().Name())
	})

	s := connected(t, bus)
	require.NoError(t, s.SetData("k", []byte("v1"), 0))
	require.NoError(t, s.SetData("k", []byte("v2"), 0))

	assert.Equal(t, []string{"StoreSetEvent", "StoreUpdateEvent"}, classes)
}

func TestDeleteEmitsDeleteEventWithPriorMetadata(t *testing.T) {
	bus := event.New(nil)
	var metas []map[string]interface{}
	bus.Connect(event.ClassStoreDeleteEvent, "w", func(e event.Event) {
		metas = append(metas, e.(*event.StoreMutationEvent).Metadata)
	})

	s := connected(t, bus)
	require.NoError(t, s.Set("k", value.NewStringValue([]byte("v"), map[string]interface{}{"a": 1}, time.Time{}, time.Time{}), 0))
	require.NoError(t, s.Delete("k"))

	require.Len(t, metas, 1)
	assert.Equal(t, 1, metas[0]["a"])
}

func TestUpdateMetadataMergesRatherThanReplaces(t *testing.T) {
	s := connected(t, nil)
	require.NoError(t, s.Set("k", value.NewStringValue([]byte("v"), map[string]interface{}{"a": 1, "b": 2}, time.Time{}, time.Time{}), 0))
	require.NoError(t, s.UpdateMetadata("k", map[string]interface{}{"b": 3, "c": 4}))

	meta, err := s.GetMetadata("k", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 3, "c": 4}, meta)
}

func TestExistsNeverErrors(t *testing.T) {
	s := connected(t, nil)
	assert.False(t, s.Exists("missing"))
	require.NoError(t, s.SetData("k", []byte("v"), 0))
	assert.True(t, s.Exists("k"))
}

func TestQueryFiltersByMatch(t *testing.T) {
	s := connected(t, nil)
	require.NoError(t, s.Set("a", value.NewStringValue([]byte("1"), map[string]interface{}{"kind": "x"}, time.Time{}, time.Time{}), 0))
	require.NoError(t, s.Set("b", value.NewStringValue([]byte("2"), map[string]interface{}{"kind": "y"}, time.Time{}, time.Time{}), 0))

	results, err := s.Query(nil, store.Match{"kind": "x"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Key)
}

func TestGlobMatchesKeyShapePattern(t *testing.T) {
	s := connected(t, nil)
	require.NoError(t, s.SetData("logs/2024.txt", []byte("x"), 0))
	require.NoError(t, s.SetData("logs/2025.txt", []byte("x"), 0))
	require.NoError(t, s.SetData("other.txt", []byte("x"), 0))

	keys, err := s.Glob("logs/*.txt")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"logs/2024.txt", "logs/2025.txt"}, keys)
}

func TestMultiSetDataWritesEveryKey(t *testing.T) {
	s := connected(t, nil)
	errsOut := s.MultiSetData([]string{"a", "b"}, [][]byte{[]byte("1"), []byte("2")}, 0)
	for _, err := range errsOut {
		assert.NoError(t, err)
	}
	assert.True(t, s.Exists("a"))
	assert.True(t, s.Exists("b"))
}

func TestToFileFromFileRoundTrip(t *testing.T) {
	s := connected(t, nil)
	require.NoError(t, s.SetData("k", []byte("round trip bytes"), 0))

	path := t.TempDir() + "/out.bin"
	require.NoError(t, s.ToFile("k", path))
	require.NoError(t, s.FromFile(path, "k2"))

	data, err := s.GetData("k2")
	require.NoError(t, err)
	assert.Equal(t, "round trip bytes", string(data))
}

func TestToFileEmitsStoreProgressEvents(t *testing.T) {
	bus := event.New(nil)
	var classes []string
	bus.Connect(event.ClassStoreProgressEvent, "w", func(e event.Event) {
		classes = append(classes, e.Class().Name())
	})

	s := connected(t, bus)
	require.NoError(t, s.SetData("k", []byte("progress bytes"), 0))

	path := t.TempDir() + "/out.bin"
	require.NoError(t, s.ToFile("k", path))

	require.NotEmpty(t, classes)
	assert.Equal(t, "StoreProgressStartEvent", classes[0])
	assert.Equal(t, "StoreProgressEndEvent", classes[len(classes)-1])
	for _, c := range classes[1 : len(classes)-1] {
		assert.Equal(t, "StoreProgressStepEvent", c)
	}
}

func TestTransactionCommitEmitsTransactionEvents(t *testing.T) {
	bus := event.New(nil)
	var classes []string
	bus.Connect(event.ClassStoreTransaction, "w", func(e event.Event) {
		classes = append(classes, e.Class().Name())
	})

	s := connected(t, bus)
	tx, err := s.Transaction("notes")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, []string{"StoreTransactionStartEvent", "StoreTransactionEndEvent"}, classes)
}
