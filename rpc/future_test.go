package rpc

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.robomesh.io/rpcports/common/clock"
)

type recordingHandler[T any] struct {
	responses  atomic.Int32
	exceptions atomic.Int32
	lastValue  atomic.Value
	lastStatus atomic.Uint32
}

func (r *recordingHandler[T]) HandleResponse(v T) {
	r.lastValue.Store(v)
	r.responses.Add(1)
}

func (r *recordingHandler[T]) HandleException(status FutureStatus) {
	r.lastStatus.Store(uint32(status))
	r.exceptions.Add(1)
}

func TestFutureGetDeliversValue(t *testing.T) {
	p := NewPromise[int]()
	fut, err := p.GetFuture()
	require.NoError(t, err)
	assert.True(t, fut.Valid())
	assert.False(t, fut.Ready())

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.SetValue(16)
	}()

	v, err := fut.Get(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 16, v)

	// a consumed future is invalid
	_, err = fut.Get(time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, StatusInvalidFuture, StatusOf(err))
}

func TestFutureGetTimeoutLeavesFutureValid(t *testing.T) {
	p := NewPromise[int]()
	fut, err := p.GetFuture()
	require.NoError(t, err)

	_, err = fut.Get(20 * time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, StatusTimeout, StatusOf(err))
	assert.True(t, fut.Valid())

	p.SetValue(7)
	v, err := fut.Get(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	p.Release()
}

func TestFutureSecondWaiterFails(t *testing.T) {
	p := NewPromise[int]()
	fut, err := p.GetFuture()
	require.NoError(t, err)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		v, err := fut.Get(2 * time.Second)
		assert.NoError(t, err)
		assert.Equal(t, 3, v)
	}()

	slot := fut.handle.Slot()
	require.Eventually(t, func() bool {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		return slot.waiting
	}, time.Second, time.Millisecond)

	_, err = fut.Get(time.Second)
	require.Error(t, err)
	assert.Equal(t, StatusInvalidCall, StatusOf(err))

	p.SetValue(3)
	<-firstDone
}

func TestFutureObservesException(t *testing.T) {
	p := NewPromise[int]()
	fut, err := p.GetFuture()
	require.NoError(t, err)

	p.SetException(StatusNoConnection)
	_, err = fut.Get(time.Second)
	assert.Equal(t, StatusNoConnection, StatusOf(err))
	assert.False(t, fut.Valid())
}

func TestFutureCallbackFiresOnce(t *testing.T) {
	p := NewPromise[int]()
	fut, err := p.GetFuture()
	require.NoError(t, err)

	h := &recordingHandler[int]{}
	fut.SetCallback(h)
	p.SetValue(11)

	require.Eventually(t, func() bool { return h.responses.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 11, h.lastValue.Load())
	assert.Zero(t, h.exceptions.Load())

	fut.Release()
	p.Release()
}

func TestFutureCallbackAfterCompletionFiresImmediately(t *testing.T) {
	p := NewPromise[string]()
	fut, err := p.GetFuture()
	require.NoError(t, err)
	p.SetValue("done")

	h := &recordingHandler[string]{}
	fut.SetCallback(h)
	assert.Equal(t, int32(1), h.responses.Load())
	assert.Equal(t, "done", h.lastValue.Load())
	fut.Release()
}

func TestReleasedFutureDetachesCallback(t *testing.T) {
	p := NewPromise[int]()
	fut, err := p.GetFuture()
	require.NoError(t, err)

	h := &recordingHandler[int]{}
	fut.SetCallback(h)
	fut.Release()

	p.SetValue(9)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.responses.Load())
	assert.Zero(t, h.exceptions.Load())
}

func TestPromiseDropBreaksFuture(t *testing.T) {
	p := NewPromise[int]()
	fut, err := p.GetFuture()
	require.NoError(t, err)

	p.Release()
	_, err = fut.Get(time.Second)
	assert.Equal(t, StatusBrokenPromise, StatusOf(err))
}

func TestPromiseDoubleFulfilmentIgnored(t *testing.T) {
	p := NewPromise[int]()
	fut, err := p.GetFuture()
	require.NoError(t, err)

	p.SetValue(1)
	p.SetValue(2)
	p.SetException(StatusTimeout)

	v, err := fut.Get(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPromiseFutureObtainableOnce(t *testing.T) {
	p := NewPromise[int]()
	_, err := p.GetFuture()
	require.NoError(t, err)
	_, err = p.GetFuture()
	require.Error(t, err)
	assert.Equal(t, StatusInvalidCall, StatusOf(err))
}

func TestPromiseReleaseIdempotent(t *testing.T) {
	p := NewPromise[int]()
	p.SetValue(5)
	p.Release()
	p.Release()
}

func TestFutureTimeoutWithFakeClock(t *testing.T) {
	ts := clock.NewEventTimeSource()
	SetTimeSource(ts)
	t.Cleanup(func() { SetTimeSource(clock.NewRealTimeSource()) })

	p := NewPromise[int]()
	fut, err := p.GetFuture()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := fut.Get(time.Minute)
		done <- err
	}()

	slot := fut.handle.Slot()
	require.Eventually(t, func() bool {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		return slot.waiting
	}, time.Second, time.Millisecond)

	ts.Advance(time.Minute + time.Second)
	assert.Equal(t, StatusTimeout, StatusOf(<-done))
	assert.True(t, fut.Valid())

	fut.Release()
	p.Release()
}

func TestCompletedFuture(t *testing.T) {
	fut := completedFuture[int](StatusNoConnection, nil)
	assert.True(t, fut.Ready())
	_, err := fut.Get(time.Millisecond)
	assert.Equal(t, StatusNoConnection, StatusOf(err))

	fut2 := completedFuture[int](StatusReady, 21)
	v, err := fut2.Get(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 21, v)
}
