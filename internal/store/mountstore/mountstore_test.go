package mountstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/store/memstore"
	"github.com/corestash/corestash/internal/value"
)

func newConnectedMount(t *testing.T, mountPoint string, mount, backing *memstore.Store) *Store {
	t.Helper()
	s := New(nil, mountPoint, mount, backing)
	require.NoError(t, s.Connect(nil))
	t.Cleanup(func() { s.Disconnect() })
	return s
}

func TestGetPrefersMountStoreUnderShortKey(t *testing.T) {
	mount := memstore.New(nil)
	require.NoError(t, mount.Connect(nil))
	require.NoError(t, mount.SetData("a", []byte("mounted"), 0))
	backing := memstore.New(nil)

	s := newConnectedMount(t, "scratch/", mount, backing)

	v, err := s.Get("scratch/a")
	require.NoError(t, err)
	data, err := v.Data()
	require.NoError(t, err)
	defer data.Close()
	b := make([]byte, 64)
	n, _ := data.Read(b)
	assert.Equal(t, "mounted", string(b[:n]))
}

func TestGetFallsBackToBackingStoreByFullKey(t *testing.T) {
	mount := memstore.New(nil)
	backing := memstore.New(nil)
	require.NoError(t, backing.Connect(nil))
	require.NoError(t, backing.SetData("scratch/a", []byte("backed"), 0))

	s := newConnectedMount(t, "scratch/", mount, backing)

	v, err := s.Get("scratch/a")
	require.NoError(t, err)
	data, err := v.Data()
	require.NoError(t, err)
	defer data.Close()
	b := make([]byte, 64)
	n, _ := data.Read(b)
	assert.Equal(t, "backed", string(b[:n]))
}

func TestGetUnprefixedKeyUsesBackingStoreFullKey(t *testing.T) {
	mount := memstore.New(nil)
	backing := memstore.New(nil)
	require.NoError(t, backing.Connect(nil))
	require.NoError(t, backing.SetData("other/a", []byte("other"), 0))

	s := newConnectedMount(t, "scratch/", mount, backing)

	v, err := s.Get("other/a")
	require.NoError(t, err)
	data, err := v.Data()
	require.NoError(t, err)
	defer data.Close()
	b := make([]byte, 64)
	n, _ := data.Read(b)
	assert.Equal(t, "other", string(b[:n]))
}

func TestGetMissingKeyFails(t *testing.T) {
	s := newConnectedMount(t, "scratch/", memstore.New(nil), memstore.New(nil))
	_, err := s.Get("scratch/nope")
	assert.ErrorIs(t, err, errs.ErrKeyMissing)
}

func TestSetDataPromotesBackingEntryBeforeWriting(t *testing.T) {
	mount := memstore.New(nil)
	backing := memstore.New(nil)
	require.NoError(t, backing.Connect(nil))
	require.NoError(t, backing.Set("scratch/a", value.NewStringValue([]byte("old"), map[string]interface{}{"kind": "orig"}, time.Time{}, time.Time{}), 0))

	s := newConnectedMount(t, "scratch/", mount, backing)
	require.NoError(t, s.SetData("scratch/a", []byte("new"), 0))

	md, err := mount.GetMetadata("a", nil)
	require.NoError(t, err)
	assert.Equal(t, "orig", md["kind"])

	data, err := mount.GetData("a")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	backingData, err := backing.GetData("scratch/a")
	require.NoError(t, err)
	assert.Equal(t, "old", string(backingData), "backing store is never mutated")
}

func TestSetDataRejectsUnprefixedKey(t *testing.T) {
	s := newConnectedMount(t, "scratch/", memstore.New(nil), memstore.New(nil))
	err := s.SetData("other/a", []byte("v"), 0)
	assert.ErrorIs(t, err, errs.ErrKeyMissing)
}

func TestSetWritesMetadataThenData(t *testing.T) {
	mount := memstore.New(nil)
	backing := memstore.New(nil)

	s := newConnectedMount(t, "scratch/", mount, backing)
	v := value.NewStringValue([]byte("hi"), map[string]interface{}{"kind": "x"}, time.Time{}, time.Time{})
	require.NoError(t, s.Set("scratch/a", v, 0))

	md, err := mount.GetMetadata("a", nil)
	require.NoError(t, err)
	assert.Equal(t, "x", md["kind"])
	data, err := mount.GetData("a")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestDeleteOnlyRemovesFromMountStore(t *testing.T) {
	mount := memstore.New(nil)
	require.NoError(t, mount.Connect(nil))
	require.NoError(t, mount.SetData("a", []byte("v"), 0))
	backing := memstore.New(nil)

	s := newConnectedMount(t, "scratch/", mount, backing)
	require.NoError(t, s.Delete("scratch/a"))
	assert.False(t, mount.Exists("a"))
}

func TestDeleteOfBackingOnlyKeyFails(t *testing.T) {
	mount := memstore.New(nil)
	backing := memstore.New(nil)
	require.NoError(t, backing.Connect(nil))
	require.NoError(t, backing.SetData("scratch/a", []byte("v"), 0))

	s := newConnectedMount(t, "scratch/", mount, backing)
	err := s.Delete("scratch/a")
	assert.ErrorIs(t, err, errs.ErrKeyMissing)
}

func TestPushMovesKeyFromMountToBacking(t *testing.T) {
	mount := memstore.New(nil)
	require.NoError(t, mount.Connect(nil))
	require.NoError(t, mount.SetData("a", []byte("v"), 0))
	backing := memstore.New(nil)

	s := newConnectedMount(t, "scratch/", mount, backing)
	require.NoError(t, s.Push("scratch/a"))

	assert.False(t, mount.Exists("a"))
	data, err := backing.GetData("scratch/a")
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
}

func TestQueryPrependsMountPointAndDedupsBacking(t *testing.T) {
	mount := memstore.New(nil)
	require.NoError(t, mount.Connect(nil))
	require.NoError(t, mount.SetData("a", []byte("1"), 0))
	backing := memstore.New(nil)
	require.NoError(t, backing.Connect(nil))
	require.NoError(t, backing.SetData("scratch/a", []byte("shadowed"), 0))
	require.NoError(t, backing.SetData("other", []byte("2"), 0))

	s := newConnectedMount(t, "scratch/", mount, backing)
	results, err := s.Query(nil, nil)
	require.NoError(t, err)

	keys := map[string]bool{}
	for _, r := range results {
		keys[r.Key] = true
	}
	assert.True(t, keys["scratch/a"])
	assert.True(t, keys["other"])
	assert.Len(t, results, 2)
}
