package txn

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/value"
)

func TestDummyEmitsStartAndEndEvents(t *testing.T) {
	bus := event.New(nil)
	var seen []string
	bus.Connect(event.ClassStoreTransaction, "watcher", func(e event.Event) {
		seen = append(seen, e.Class().Name())
	})

	base := store.NewBase(bus, "src")
	txn := NewDummy(&base, "writing stuff")
	require.NoError(t, txn.Commit())

	assert.Equal(t, []string{"StoreTransactionStartEvent", "StoreTransactionEndEvent"}, seen)
}

func TestDummyRollbackEmitsFailedState(t *testing.T) {
	bus := event.New(nil)
	var state event.TransactionState
	bus.Connect(event.ClassStoreTxnEndEvent, "watcher", func(e event.Event) {
		state = e.(*event.StoreTransactionEndEvent).State
	})

	base := store.NewBase(bus, "src")
	txn := NewDummy(&base, "notes")
	require.NoError(t, txn.Rollback())

	assert.Equal(t, event.TransactionFailed, state)
}

type fakeApplier struct {
	data map[string]bool
	fail string
}

func (f *fakeApplier) ApplySet(key string, v value.Value, bufferSize int) (bool, map[string]interface{}, error) {
	if key == f.fail {
		return false, nil, errors.New("boom")
	}
	existed := f.data[key]
	f.data[key] = true
	return existed, map[string]interface{}{"k": key}, nil
}

func (f *fakeApplier) ApplyDelete(key string) (map[string]interface{}, error) {
	if key == f.fail {
		return nil, errors.New("boom")
	}
	delete(f.data, key)
	return map[string]interface{}{"k": key}, nil
}

func TestSimpleCommitAppliesBufferedOpsInOrderAndEmitsSetEvents(t *testing.T) {
	bus := event.New(nil)
	var sets, dels []string
	bus.Connect(event.ClassStoreSetEvent, "w1", func(e event.Event) {
		sets = append(sets, e.(*event.StoreMutationEvent).Key)
	})
	bus.Connect(event.ClassStoreDeleteEvent, "w2", func(e event.Event) {
		dels = append(dels, e.(*event.StoreMutationEvent).Key)
	})

	base := store.NewBase(bus, "src")
	applier := &fakeApplier{data: map[string]bool{"existing": true}}
	s := NewSimple(&base, "batch", applier)

	s.RecordSet("a", value.NewStringValue([]byte("1"), nil, noTime(), noTime()), 0)
	s.RecordSet("existing", value.NewStringValue([]byte("2"), nil, noTime(), noTime()), 0)
	s.RecordDelete("existing")

	require.NoError(t, s.Commit())
	assert.Equal(t, []string{"a", "existing"}, sets)
	assert.Equal(t, []string{"existing"}, dels)
}

func TestSimpleCommitFailureStopsAndReportsError(t *testing.T) {
	bus := event.New(nil)
	base := store.NewBase(bus, "src")
	applier := &fakeApplier{data: map[string]bool{}, fail: "bad"}
	s := NewSimple(&base, "batch", applier)

	s.RecordSet("good", value.NewStringValue([]byte("1"), nil, noTime(), noTime()), 0)
	s.RecordSet("bad", value.NewStringValue([]byte("1"), nil, noTime(), noTime()), 0)

	err := s.Commit()
	assert.Error(t, err)
	assert.True(t, applier.data["good"])
}

func TestSimpleRollbackDiscardsBufferedOps(t *testing.T) {
	bus := event.New(nil)
	var sets []string
	bus.Connect(event.ClassStoreSetEvent, "w1", func(e event.Event) {
		sets = append(sets, e.(*event.StoreMutationEvent).Key)
	})

	base := store.NewBase(bus, "src")
	applier := &fakeApplier{data: map[string]bool{}}
	s := NewSimple(&base, "batch", applier)
	s.RecordSet("a", value.NewStringValue([]byte("1"), nil, noTime(), noTime()), 0)

	require.NoError(t, s.Rollback())
	assert.Empty(t, sets)
	assert.False(t, applier.data["a"])
}

func noTime() (t time.Time) { return }
