package rpc

import (
	"time"

	"go.robomesh.io/rpcports/common/log/tag"
)

type (
	// Future is the consumer side of a pending call result. Futures are
	// single-consumer: one Get may block at a time, and a successful or
	// failed Get invalidates the future.
	Future[T any] struct {
		handle *CallHandle
	}

	// ResponseHandler receives the outcome of an asynchronous call.
	// Exactly one of the two methods is invoked, exactly once, outside
	// the slot mutex and on an unspecified goroutine.
	ResponseHandler[T any] interface {
		HandleResponse(value T)
		HandleException(status FutureStatus)
	}

	handlerAdapter[T any] struct {
		h ResponseHandler[T]
	}

	// futureCarrier is the untyped view dispatch code takes on futures of
	// any value type.
	futureCarrier interface {
		futureSlot() *CallStorage
		futureHandle() *CallHandle
	}
)

func (a handlerAdapter[T]) accept(status FutureStatus, value any) {
	if status == StatusReady {
		v, ok := value.(T)
		if !ok {
			a.h.HandleException(StatusInvalidDataReceived)
			return
		}
		a.h.HandleResponse(v)
		return
	}
	a.h.HandleException(status)
}

// newFuture wraps a consumer handle on slot.
func newFuture[T any](h *CallHandle) *Future[T] {
	return &Future[T]{handle: h}
}

// completedFuture returns a future over a fresh slot already carrying the
// given terminal status and, on READY, the value.
func completedFuture[T any](status FutureStatus, value any) *Future[T] {
	h := Acquire()
	slot := h.Slot()
	if status == StatusReady {
		slot.SetValue(value)
	} else {
		slot.SetException(status)
	}
	f := newFuture[T](slot.obtainFutureHandle())
	h.Release()
	return f
}

// Valid reports whether the future still refers to a pending or unconsumed
// result.
func (f *Future[T]) Valid() bool {
	return f != nil && f.handle != nil
}

// Ready is a non-blocking check for a terminal status.
func (f *Future[T]) Ready() bool {
	return f.Valid() && f.handle.Slot().Status() != StatusPending
}

// Get blocks until the result arrives or timeout elapses.
// An invalidated future fails with INVALID_FUTURE. A second concurrent Get
// fails with INVALID_CALL. Timeout leaves the future valid so a caller may
// retry; any other outcome, success included, invalidates the future.
func (f *Future[T]) Get(timeout time.Duration) (T, error) {
	var zero T
	if !f.Valid() {
		return zero, NewError(StatusInvalidFuture, "future is not valid")
	}
	slot := f.handle.Slot()
	status := slot.Status()
	if status == StatusPending {
		slot.mu.Lock()
		if slot.waiting {
			slot.mu.Unlock()
			return zero, NewError(StatusInvalidCall, "another thread is already waiting")
		}
		slot.waiting = true
		ready := slot.readyCh
		slot.mu.Unlock()

		expired := make(chan struct{})
		timer := TimeSource().AfterFunc(timeout, func() { close(expired) })
		select {
		case <-ready:
		case <-expired:
		}
		timer.Stop()

		slot.mu.Lock()
		slot.waiting = false
		slot.mu.Unlock()

		status = slot.Status()
		if status == StatusPending {
			return zero, NewError(StatusTimeout, "no result after %v", timeout)
		}
	}

	if status != StatusReady {
		f.Release()
		return zero, NewError(status, "call failed")
	}
	value, ok := slot.result.(T)
	f.Release()
	if !ok {
		return zero, NewError(StatusInvalidDataReceived, "result has unexpected type")
	}
	return value, nil
}

// SetCallback attaches a one-shot response handler. If the result already
// arrived the handler fires immediately. Releasing the future detaches a
// handler that has not fired yet.
func (f *Future[T]) SetCallback(h ResponseHandler[T]) {
	if !f.Valid() {
		Logger().Warn("callback attached to invalid future")
		return
	}
	attachHandler[T](f.handle.Slot(), h)
}

// attachHandler installs h on slot, firing it immediately when the slot is
// already terminal.
func attachHandler[T any](slot *CallStorage, h ResponseHandler[T]) {
	adapter := handlerAdapter[T]{h: h}
	slot.mu.Lock()
	status := slot.Status()
	if status == StatusPending {
		slot.handler = adapter
		slot.mu.Unlock()
		return
	}
	value := slot.result
	slot.mu.Unlock()
	adapter.accept(status, value)
}

// Release invalidates the future and gives up its slot reference.
// Idempotent.
func (f *Future[T]) Release() {
	if !f.Valid() {
		return
	}
	h := f.handle
	f.handle = nil
	slot := h.Slot()
	slot.clearHandler()
	h.Release()
}

func (f *Future[T]) futureSlot() *CallStorage {
	if f == nil || f.handle == nil {
		return nil
	}
	return f.handle.Slot()
}

func (f *Future[T]) futureHandle() *CallHandle {
	if f == nil {
		return nil
	}
	return f.handle
}

func logDroppedResult(status FutureStatus, id CallID) {
	Logger().Debug("discarding result without consumer",
		tag.CallID(uint64(id)), tag.FutureStatus(status.String()))
}
