package fsstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/internal/event"
)

func newConnectedLocking(t *testing.T, bus *event.Bus) *Locking {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, Init(root, ""))
	l := NewLocking(bus, root, "", 200*time.Millisecond)
	require.NoError(t, l.Connect(nil))
	return l
}

func TestLockingSetGetRoundTrips(t *testing.T) {
	l := newConnectedLocking(t, nil)
	require.NoError(t, l.SetData("k", []byte("locked value"), 0))

	data, err := l.GetData("k")
	require.NoError(t, err)
	assert.Equal(t, "locked value", string(data))
}

func TestLockingTransactionDefersWritesUntilCommit(t *testing.T) {
	l := newConnectedLocking(t, nil)

	tx, err := l.Transaction("batch")
	require.NoError(t, err)
	require.NoError(t, l.SetData("a", []byte("1"), 0))
	require.NoError(t, l.SetData("b", []byte("2"), 0))

	assert.False(t, l.Exists("a"), "write should be buffered, not yet applied")
	assert.False(t, l.Exists("b"))

	require.NoError(t, tx.Commit())

	assert.True(t, l.Exists("a"))
	assert.True(t, l.Exists("b"))
}

func TestLockingTransactionRollbackDropsBufferedWrites(t *testing.T) {
	l := newConnectedLocking(t, nil)

	tx, err := l.Transaction("batch")
	require.NoError(t, err)
	require.NoError(t, l.SetData("a", []byte("1"), 0))
	require.NoError(t, tx.Rollback())

	assert.False(t, l.Exists("a"))
}

func TestLockingWritesImmediateOutsideTransaction(t *testing.T) {
	l := newConnectedLocking(t, nil)
	require.NoError(t, l.SetData("a", []byte("1"), 0))
	assert.True(t, l.Exists("a"))
}
