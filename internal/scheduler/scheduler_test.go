package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/workerpool"
)

func TestSerializerOrdering(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Shutdown(true)

	s := NewSerializer(pool)
	var mu sync.Mutex
	var got []int
	for n := 1; n <= 10; n++ {
		n := n
		err := s.Submit(func() (interface{}, error) {
			time.Sleep(time.Millisecond)
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
			return nil, nil
		})
		require.NoError(t, err)
	}
	s.Wait()
	s.Shutdown()

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestAsynchronizerCoalescesToFirstAndLast(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Shutdown(true)

	s := NewAsynchronizer(pool)
	var mu sync.Mutex
	var got []int

	started := make(chan struct{}, 1)
	release := make(chan struct{})

	err := s.Submit(func() (interface{}, error) {
		started <- struct{}{}
		<-release
		mu.Lock()
		got = append(got, 1)
		mu.Unlock()
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	for n := 2; n <= 10; n++ {
		n := n
		err := s.Submit(func() (interface{}, error) {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
			return nil, nil
		})
		require.NoError(t, err)
	}

	close(release)
	s.Wait()
	s.Shutdown()

	assert.Equal(t, []int{1, 10}, got)
}

func TestSerializingAsynchronizerPerCallableCoalescing(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Shutdown(true)

	var mu sync.Mutex
	var callback []int

	s := NewSerializingAsynchronizer(pool, WithCallback(func(f *workerpool.Future) {
		v, err := f.Result(0)
		require.NoError(t, err)
		mu.Lock()
		callback = append(callback, v.(int))
		mu.Unlock()
	}))

	var aResults, bResults []int
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	// Block the single worker so subsequent submissions pile up and coalesce.
	err := s.SubmitKeyed("blocker", func() (interface{}, error) {
		started <- struct{}{}
		<-release
		return 0, nil
	})
	require.NoError(t, err)
	<-started

	for n := 1; n <= 10; n++ {
		n := n
		err := s.SubmitKeyed("A", func() (interface{}, error) {
			mu.Lock()
			aResults = append(aResults, n)
			mu.Unlock()
			return n, nil
		})
		require.NoError(t, err)
	}
	for n := 11; n <= 20; n++ {
		n := n
		err := s.SubmitKeyed("B", func() (interface{}, error) {
			mu.Lock()
			bResults = append(bResults, n)
			mu.Unlock()
			return n, nil
		})
		require.NoError(t, err)
	}

	close(release)
	s.Wait()
	s.Shutdown()

	assert.Equal(t, []int{10}, aResults)
	assert.Equal(t, []int{20}, bResults)
	assert.Equal(t, []int{0, 10, 20}, callback)
}

func TestDelayedAsynchronizerSpacing(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Shutdown(true)

	interval := 60 * time.Millisecond
	var mu sync.Mutex
	var times []time.Time

	d := NewDelayedAsynchronizer(pool, interval, WithCallback(func(f *workerpool.Future) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
	}))

	require.NoError(t, d.Submit(func() (interface{}, error) { return nil, nil }))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.Submit(func() (interface{}, error) { return nil, nil }))

	time.Sleep(250 * time.Millisecond)
	d.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), interval-5*time.Millisecond)
}

func TestSchedulerSubmitAfterShutdownRefused(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Shutdown(true)

	s := NewSerializer(pool)
	s.Shutdown()

	err := s.Submit(func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, errs.ErrShutdownRefusal)
}

func TestSchedulerAtMostOneInFlight(t *testing.T) {
	pool := workerpool.New(4)
	defer pool.Shutdown(true)

	s := NewAsynchronizer(pool)
	var mu sync.Mutex
	var concurrent int
	var maxConcurrent int

	for i := 0; i < 20; i++ {
		_ = s.Submit(func() (interface{}, error) {
			mu.Lock()
			concurrent++
			if concurrent > maxConcurrent {
				maxConcurrent = concurrent
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			concurrent--
			mu.Unlock()
			return nil, nil
		})
	}
	s.Wait()
	s.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxConcurrent)
}
