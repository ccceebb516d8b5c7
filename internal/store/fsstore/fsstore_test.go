package fsstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/value"
)

func newConnected(t *testing.T, bus *event.Bus) *Store {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, Init(root, ""))
	s := New(bus, root, "")
	require.NoError(t, s.Connect(nil))
	return s
}

func TestConnectFailsWithoutMarker(t *testing.T) {
	s := New(nil, t.TempDir(), "")
	err := s.Connect(nil)
	assert.ErrorIs(t, err, errs.ErrInvalidStore)
}

func TestConnectFailsOnMissingRoot(t *testing.T) {
	s := New(nil, filepath.Join(t.TempDir(), "nope"), "")
	err := s.Connect(nil)
	assert.ErrorIs(t, err, errs.ErrInvalidStore)
}

func TestSetThenGetDataRoundTrips(t *testing.T) {
	s := newConnected(t, nil)
	require.NoError(t, s.SetData("k", []byte("hello fs"), 0))

	data, err := s.GetData("k")
	require.NoError(t, err)
	assert.Equal(t, "hello fs", string(data))
}

func TestGetMissingKeyFails(t *testing.T) {
	s := newConnected(t, nil)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, errs.ErrKeyMissing)
}

func TestSetEmitsSetThenUpdate(t *testing.T) {
	bus := event.New(nil)
	var classes []string
	bus.Connect(event.ClassStoreMutationEvent, "w", func(e event.Event) {
		classes = append(classes, e.Class().Name())
	})

	s := newConnected(t, bus)
	require.NoError(t, s.SetData("k", []byte("v1"), 0))
	require.NoError(t, s.SetData("k", []byte("v2"), 0))

	assert.Equal(t, []string{"StoreSetEvent", "StoreUpdateEvent"}, classes)
}

func TestDeleteRemovesBothFiles(t *testing.T) {
	s := newConnected(t, nil)
	require.NoError(t, s.SetData("k", []byte("v"), 0))
	require.NoError(t, s.Delete("k"))

	assert.False(t, s.Exists("k"))
	_, err := s.Get("k")
	assert.ErrorIs(t, err, errs.ErrKeyMissing)
}

func TestUpdateMetadataMergesOntoDisk(t *testing.T) {
	s := newConnected(t, nil)
	require.NoError(t, s.Set("k", value.NewStringValue([]byte("v"), map[string]interface{}{"a": float64(1)}, time.Time{}, time.Time{}), 0))
	require.NoError(t, s.UpdateMetadata("k", map[string]interface{}{"b": float64(2)}))

	md, err := s.GetMetadata("k", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": float64(1), "b": float64(2)}, md)
}

func TestQueryKeysSkipsReadWhenMatchEmpty(t *testing.T) {
	s := newConnected(t, nil)
	require.NoError(t, s.SetData("a", []byte("1"), 0))
	require.NoError(t, s.SetData("b", []byte("2"), 0))

	keys, err := s.QueryKeys(nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestQueryFiltersByMatch(t *testing.T) {
	s := newConnected(t, nil)
	require.NoError(t, s.Set("a", value.NewStringValue([]byte("1"), map[string]interface{}{"kind": "x"}, time.Time{}, time.Time{}), 0))
	require.NoError(t, s.Set("b", value.NewStringValue([]byte("2"), map[string]interface{}{"kind": "y"}, time.Time{}, time.Time{}), 0))

	results, err := s.Query(nil, store.Match{"kind": "x"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Key)
}

func TestGlobMatchesFsKeys(t *testing.T) {
	s := newConnected(t, nil)
	require.NoError(t, s.SetData("log-a.txt", []byte("x"), 0))
	require.NoError(t, s.SetData("other.txt", []byte("x"), 0))

	keys, err := s.Glob("log-*.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"log-a.txt"}, keys)
}

func TestTransactionIsDummyButEmitsBracketingEvents(t *testing.T) {
	bus := event.New(nil)
	var classes []string
	bus.Connect(event.ClassStoreTransaction, "w", func(e event.Event) {
		classes = append(classes, e.Class().Name())
	})

	s := newConnected(t, bus)
	tx, err := s.Transaction("notes")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, []string{"StoreTransactionStartEvent", "StoreTransactionEndEvent"}, classes)
}
