package rpc

import (
	"reflect"
	"sync"

	"go.robomesh.io/rpcports/common/log/tag"
)

type (
	// Promise is the producer side of a pending value. A promise may be the
	// declared return type of an interface method (directly or embedded by
	// value in a derived struct); the holder then fulfils the call whenever
	// it is ready, and dropping the promise breaks it for the consumer no
	// matter which side of a transport the consumer lives on.
	//
	// Promise is a value type sharing one state; copies fulfil the same
	// obligation.
	Promise[T any] struct {
		state *promiseState
	}

	promiseState struct {
		handle     *CallHandle
		resultType reflect.Type

		mu   sync.Mutex
		done bool

		// remote binding, set when the promise was returned across a
		// transport boundary
		sender   ResponseSender
		iface    *InterfaceType
		fn       uint8
		remoteID CallID
	}

	// promiseCarrier is the untyped view dispatch code takes on promises
	// of any value type, including derived structs embedding one.
	promiseCarrier interface {
		promiseInternals() *promiseState
		promiseValueType() reflect.Type
	}
)

// NewPromise allocates a promise over a fresh call-storage slot.
func NewPromise[T any]() Promise[T] {
	h := Acquire()
	slot := h.Slot()
	slot.SetCallID(NewCallID())
	return Promise[T]{state: &promiseState{
		handle:     h,
		resultType: reflect.TypeOf((*T)(nil)).Elem(),
	}}
}

// SetValue fulfils the promise. Double fulfilment logs and is ignored.
func (p Promise[T]) SetValue(v T) {
	s := p.state
	if s == nil {
		Logger().Warn("value set on zero promise")
		return
	}
	if !s.finish() {
		Logger().Warn("promise already fulfilled, ignoring value",
			tag.CallID(uint64(s.handle.Slot().CallID())))
		return
	}
	s.handle.Slot().SetValue(v)
	s.emitRemote(StatusReady, v)
	s.handle.Release()
}

// SetException breaks the promise with a failure status. PENDING and READY
// are rejected as arguments.
func (p Promise[T]) SetException(status FutureStatus) {
	s := p.state
	if s == nil {
		Logger().Warn("exception set on zero promise")
		return
	}
	if status == StatusPending || status == StatusReady {
		panic("rpc: SetException called with non-failure status " + status.String())
	}
	if !s.finish() {
		Logger().Warn("promise already fulfilled, ignoring exception",
			tag.CallID(uint64(s.handle.Slot().CallID())),
			tag.FutureStatus(status.String()))
		return
	}
	s.handle.Slot().SetException(status)
	s.emitRemote(status, nil)
	s.handle.Release()
}

// GetFuture returns the consumer side. May be called at most once.
func (p Promise[T]) GetFuture() (*Future[T], error) {
	s := p.state
	if s == nil {
		return nil, NewError(StatusInvalidFuture, "zero promise")
	}
	slot := s.handle.Slot()
	slot.mu.Lock()
	if slot.futureObtained {
		slot.mu.Unlock()
		return nil, NewError(StatusInvalidCall, "future already obtained")
	}
	slot.futureObtained = true
	slot.mu.Unlock()
	return newFuture[T](slot.obtainFutureHandle()), nil
}

// Release drops the promise. An unfulfilled promise breaks: an attached
// future observes BROKEN_PROMISE, a bound remote consumer receives a
// BROKEN_PROMISE response. Idempotent.
func (p Promise[T]) Release() {
	s := p.state
	if s == nil || !s.finish() {
		return
	}
	slot := s.handle.Slot()
	if slot.Status() == StatusPending {
		s.emitRemote(StatusBrokenPromise, nil)
	}
	// releasing the producer handle converts a pending slot with an
	// attached future to BROKEN_PROMISE
	s.handle.Release()
}

// finish claims the one fulfilment. Returns false when already claimed.
func (s *promiseState) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	return true
}

// bindRemote attaches the transport back-path. Fulfilment then emits a
// response referencing the original correlation id.
func (s *promiseState) bindRemote(sender ResponseSender, iface *InterfaceType, fn uint8, remoteID CallID) {
	s.mu.Lock()
	s.sender = sender
	s.iface = iface
	s.fn = fn
	s.remoteID = remoteID
	s.mu.Unlock()
}

// emitRemote sends the fulfilment (or failure) as a response call when the
// promise is bound to a transport back-path.
func (s *promiseState) emitRemote(status FutureStatus, value any) {
	s.mu.Lock()
	sender, iface, fn, remoteID := s.sender, s.iface, s.fn, s.remoteID
	s.mu.Unlock()
	if sender == nil {
		return
	}
	h := Acquire()
	slot := h.Slot()
	slot.SetCallID(remoteID)
	resp := &Response{
		iface:  iface,
		fn:     fn,
		callID: remoteID,
		status: status,
		value:  value,
	}
	slot.setCall(resp, CallTypeResponse)
	sender.SendResponse(h)
}

// promiseInternals implements promiseCarrier. Pointer receiver, so derived
// structs embedding a Promise by value expose it through their address.
func (p *Promise[T]) promiseInternals() *promiseState {
	return p.state
}

func (p *Promise[T]) promiseValueType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// promiseResultType reports the value type produced by a promise-kind
// return type, or nil when t is not promise-kind.
func promiseResultType(t reflect.Type) reflect.Type {
	if t.Kind() != reflect.Struct {
		return nil
	}
	if !reflect.PointerTo(t).Implements(promiseCarrierType) {
		return nil
	}
	return reflect.New(t).Interface().(promiseCarrier).promiseValueType()
}

// promiseStateOf extracts the shared state from a returned promise-kind
// value. Returned values are not addressable, so the value is copied; the
// copy shares the state pointer.
func promiseStateOf(v reflect.Value) *promiseState {
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p.Interface().(promiseCarrier).promiseInternals()
}

var promiseCarrierType = reflect.TypeOf((*promiseCarrier)(nil)).Elem()
