package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/errs"
)

func TestConnectEmitPriorityOrder(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	var order []string

	b.Connect(ClassStoreSetEvent, "low", func(Event) {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
	}, WithPriority(0))
	b.Connect(ClassStoreSetEvent, "high", func(Event) {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
	}, WithPriority(10))
	b.Connect(ClassStoreSetEvent, "mid", func(Event) {
		mu.Lock()
		order = append(order, "mid")
		mu.Unlock()
	}, WithPriority(5))

	h, err := b.Emit(NewStoreSetEvent(nil, "k", nil), true)
	require.NoError(t, err)
	h.Wait()

	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestReconnectSameIDReplacesPriorBinding(t *testing.T) {
	b := New(nil)
	calls := 0
	b.Connect(ClassStoreSetEvent, "x", func(Event) { calls++ }, WithPriority(1))
	b.Connect(ClassStoreSetEvent, "x", func(Event) { calls += 10 }, WithPriority(1))

	h, _ := b.Emit(NewStoreSetEvent(nil, "k", nil), true)
	h.Wait()
	assert.Equal(t, 10, calls)
}

func TestDisconnectMissingListenerFails(t *testing.T) {
	b := New(nil)
	err := b.Disconnect(ClassStoreSetEvent, "nope")
	assert.ErrorIs(t, err, errs.ErrNotConnectedListener)
}

func TestHierarchicalDispatch(t *testing.T) {
	b := New(nil)
	var seen []string
	b.Connect(ClassStoreEvent, "ancestor", func(e Event) { seen = append(seen, "ancestor") })
	b.Connect(ClassStoreSetEvent, "leaf", func(e Event) { seen = append(seen, "leaf") }, WithPriority(1))

	h, _ := b.Emit(NewStoreSetEvent(nil, "k", nil), true)
	h.Wait()

	assert.Equal(t, []string{"leaf", "ancestor"}, seen)
}

func TestDisableSilencesDescendants(t *testing.T) {
	b := New(nil)
	fired := false
	b.Connect(ClassStoreSetEvent, "l", func(Event) { fired = true })
	b.Disable(ClassStoreEvent)

	h, _ := b.Emit(NewStoreSetEvent(nil, "k", nil), true)
	h.Wait()
	assert.False(t, fired)

	b.Enable(ClassStoreEvent)
	h, _ = b.Emit(NewStoreSetEvent(nil, "k", nil), true)
	h.Wait()
	assert.True(t, fired)
}

func TestFilterSkipsNonMatching(t *testing.T) {
	b := New(nil)
	var matched []string
	b.Connect(ClassStoreSetEvent, "only-foo", func(e Event) {
		matched = append(matched, e.(*StoreMutationEvent).Key)
	}, WithFilter(Filter{"Key": "foo"}))

	h, _ := b.Emit(NewStoreSetEvent(nil, "foo", nil), true)
	h.Wait()
	h, _ = b.Emit(NewStoreSetEvent(nil, "bar", nil), true)
	h.Wait()

	assert.Equal(t, []string{"foo"}, matched)
}

func TestHandledStopsDispatch(t *testing.T) {
	b := New(nil)
	var ran []string
	b.Connect(ClassStoreSetEvent, "first", func(e Event) {
		ran = append(ran, "first")
		e.SetHandled(true)
	}, WithPriority(10))
	b.Connect(ClassStoreSetEvent, "second", func(e Event) {
		ran = append(ran, "second")
	}, WithPriority(5))

	h, _ := b.Emit(NewStoreSetEvent(nil, "k", nil), true)
	res := h.Wait()

	assert.Equal(t, []string{"first"}, ran)
	assert.True(t, res.Handled)
}

func TestListenerPanicIsSwallowed(t *testing.T) {
	b := New(nil)
	secondRan := false
	b.Connect(ClassStoreSetEvent, "boom", func(Event) { panic("kaboom") }, WithPriority(10))
	b.Connect(ClassStoreSetEvent, "second", func(Event) { secondRan = true }, WithPriority(5))

	h, err := b.Emit(NewStoreSetEvent(nil, "k", nil), true)
	require.NoError(t, err)
	h.Wait()
	assert.True(t, secondRan)
}

func TestNonBlockingEmitRunsAsync(t *testing.T) {
	b := New(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	b.Connect(ClassStoreSetEvent, "slow", func(Event) {
		close(started)
		<-release
	})

	h, err := b.Emit(NewStoreSetEvent(nil, "k", nil), false)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("listener never started")
	}
	close(release)
	h.Wait()
}

func TestWeakMethodBindingDispatchesWhileReceiverAlive(t *testing.T) {
	b := New(nil)
	type receiver struct{ calls int }
	r := &receiver{}
	ConnectMethod(b, ClassStoreSetEvent, "weak", r, func(r *receiver, e Event) { r.calls++ })

	h, _ := b.Emit(NewStoreSetEvent(nil, "k", nil), true)
	h.Wait()
	assert.Equal(t, 1, r.calls)

	r = nil
	_ = r
	// We cannot deterministically force a GC-collected weak pointer in a
	// unit test without runtime.GC() + removing all other references, so
	// the pruning of dead bindings in matchingListeners is not exercised
	// here.
}

func TestGlobalBusSetOnce(t *testing.T) {
	// Each test that touches the package-level global must not race with
	// others; this test only verifies the second-call failure contract
	// using a fresh process-level singleton guard, so it is intentionally
	// tolerant of global already being set by another test in this binary.
	b1 := New(nil)
	err := SetGlobal(b1)
	if err == nil {
		// We were first; a second call must fail.
		err2 := SetGlobal(New(nil))
		assert.ErrorIs(t, err2, errs.ErrAlreadyInitialized)
		assert.Equal(t, b1, Global())
	} else {
		assert.ErrorIs(t, err, errs.ErrAlreadyInitialized)
	}
}

func TestGetEventHierarchy(t *testing.T) {
	h := (&Bus{}).GetEventHierarchy(ClassStoreSetEvent)
	names := make([]string, len(h))
	for i, c := range h {
		names[i] = c.Name()
	}
	assert.Equal(t, []string{"StoreSetEvent", "StoreMutationEvent", "StoreEvent", "Event"}, names)
}
