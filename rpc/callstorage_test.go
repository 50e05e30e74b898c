package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireGivesFreshSlot(t *testing.T) {
	pool := NewPool()
	h := pool.Acquire()
	slot := h.Slot()
	assert.Equal(t, StatusPending, slot.Status())
	assert.Equal(t, CallTypeUnspecified, slot.CallType())
	assert.False(t, slot.ExpectsResponse())
	assert.False(t, h.IsFuture())
	h.Release()

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Population)
	assert.Equal(t, 1, stats.Free)
}

func TestPoolRecyclesAndKeepsHighWater(t *testing.T) {
	pool := NewPool()
	var handles []*CallHandle
	for i := 0; i < 8; i++ {
		handles = append(handles, pool.Acquire())
	}
	assert.Equal(t, 8, pool.Stats().Population)
	for _, h := range handles {
		h.Release()
	}
	assert.Equal(t, PoolStats{Population: 8, Free: 8}, pool.Stats())

	// reuse does not grow the pool
	h := pool.Acquire()
	assert.Equal(t, 8, pool.Stats().Population)
	assert.Equal(t, StatusPending, h.Slot().Status())
	h.Release()
}

func TestSingleTerminalTransition(t *testing.T) {
	pool := NewPool()
	h := pool.Acquire()
	slot := h.Slot()

	slot.SetValue(42)
	assert.Equal(t, StatusReady, slot.Status())
	assert.Equal(t, 42, slot.result)

	// double fulfilment is ignored
	slot.SetValue(43)
	assert.Equal(t, 42, slot.result)
	slot.SetException(StatusTimeout)
	assert.Equal(t, StatusReady, slot.Status())
	h.Release()
}

func TestSetExceptionRejectsNonFailureStatus(t *testing.T) {
	pool := NewPool()
	h := pool.Acquire()
	defer h.Release()
	assert.Panics(t, func() { h.Slot().SetException(StatusPending) })
	assert.Panics(t, func() { h.Slot().SetException(StatusReady) })
}

func TestBrokenPromiseOnProducerRelease(t *testing.T) {
	pool := NewPool()
	h := pool.Acquire()
	slot := h.Slot()
	fh := slot.obtainFutureHandle()
	require.True(t, fh.IsFuture())

	h.Release()
	assert.Equal(t, StatusBrokenPromise, slot.Status())

	fh.Release()
	assert.Equal(t, PoolStats{Population: 1, Free: 1}, pool.Stats())
}

func TestBrokenPromiseFiresAttachedHandler(t *testing.T) {
	pool := NewPool()
	h := pool.Acquire()
	rh := &recordingHandler[int]{}
	h.Slot().setHandler(handlerAdapter[int]{h: rh})

	// no future handle exists; the attached handler alone makes the slot
	// consumed, so dropping the producer must not recycle it silently
	h.Release()
	assert.Equal(t, int32(1), rh.exceptions.Load())
	assert.Equal(t, uint32(StatusBrokenPromise), rh.lastStatus.Load())
	assert.Zero(t, rh.responses.Load())
	assert.Equal(t, PoolStats{Population: 1, Free: 1}, pool.Stats())
}

func TestNoBrokenPromiseWithoutConsumer(t *testing.T) {
	pool := NewPool()
	h := pool.Acquire()
	slot := h.Slot()
	h.Release()
	// no future handle existed, the slot simply recycles
	assert.Equal(t, 1, pool.Stats().Free)
	_ = slot
}

func TestReleaseOrderIndependence(t *testing.T) {
	pool := NewPool()

	h := pool.Acquire()
	fh := h.Slot().obtainFutureHandle()
	h.Slot().SetValue(1)
	fh.Release()
	h.Release()
	assert.Equal(t, 1, pool.Stats().Free)

	h = pool.Acquire()
	fh = h.Slot().obtainFutureHandle()
	h.Slot().SetValue(1)
	h.Release()
	fh.Release()
	assert.Equal(t, 1, pool.Stats().Free)
}

func TestDoubleReleaseIsPrevented(t *testing.T) {
	pool := NewPool()
	h := pool.Acquire()
	fh := h.Slot().obtainFutureHandle()
	h.Release()
	h.Release()
	h.Release()
	// the slot is still held by the future handle
	assert.Equal(t, 0, pool.Stats().Free)
	fh.Release()
	fh.Release()
	assert.Equal(t, 1, pool.Stats().Free)
}

func TestReadyForSendingGate(t *testing.T) {
	pool := NewPool()
	h := pool.Acquire()
	slot := h.Slot()
	assert.True(t, slot.ReadyForSending())
	assert.Nil(t, slot.ReadyGateCh())

	gh := pool.Acquire()
	slot.SetReadyGate(gh.Slot())
	assert.False(t, slot.ReadyForSending())
	ch := slot.ReadyGateCh()
	require.NotNil(t, ch)
	select {
	case <-ch:
		t.Fatal("gate must stay closed while the inner slot is pending")
	default:
	}

	gh.Slot().SetValue(5)
	assert.True(t, slot.ReadyForSending())
	<-ch

	h.Release()
	gh.Release()
}
