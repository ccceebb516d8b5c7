package workerpool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureSetResultUnblocksResult(t *testing.T) {
	f := NewFuture()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.setRunningOrNotifyCancel()
		f.SetResult(42)
	}()

	v, err := f.Result(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.Done())
}

func TestFutureSetExceptionCapturesTracebackAtSetTime(t *testing.T) {
	f := NewFuture()
	f.setRunningOrNotifyCancel()
	f.SetException(errors.New("boom"))

	_, err := f.Result(time.Second)
	assert.EqualError(t, err, "boom")
	assert.NotEmpty(t, f.Traceback())
}

func TestFutureResultTimesOutWithoutCompletion(t *testing.T) {
	f := NewFuture()
	_, err := f.Result(10 * time.Millisecond)
	assert.Error(t, err)
}

func TestFutureCancelBeforeRunPreventsExecution(t *testing.T) {
	f := NewFuture()
	ok := f.Cancel()
	assert.True(t, ok)
	assert.True(t, f.Cancelled())
	assert.False(t, f.setRunningOrNotifyCancel())

	_, err := f.Result(time.Second)
	assert.Error(t, err)
}

func TestFutureCancelAfterRunningFails(t *testing.T) {
	f := NewFuture()
	require.True(t, f.setRunningOrNotifyCancel())
	assert.False(t, f.Cancel())
}

func TestFutureDoneCallbackFiresOnceEvenIfRegisteredLate(t *testing.T) {
	f := NewFuture()
	f.setRunningOrNotifyCancel()
	f.SetResult("done")

	called := 0
	f.AddDoneCallback(func(*Future) { called++ })
	assert.Equal(t, 1, called)

	f2 := NewFuture()
	f2.AddDoneCallback(func(*Future) { called++ })
	f2.setRunningOrNotifyCancel()
	f2.SetResult("done")
	assert.Equal(t, 2, called)
}

func TestFutureSecondFinishIsIgnored(t *testing.T) {
	f := NewFuture()
	f.setRunningOrNotifyCancel()
	f.SetResult(1)
	f.SetResult(2)

	v, err := f.Result(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
