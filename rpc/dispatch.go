package rpc

import (
	"fmt"
	"reflect"

	"go.robomesh.io/rpcports/common/log/tag"
	"go.robomesh.io/rpcports/serialization"
)

type (
	// ResponseSender is the capability handed to request dispatch that can
	// emit a response call back to the original caller.
	ResponseSender interface {
		SendResponse(h *CallHandle)
	}

	// PendingRegistrar is the receiver-side table of outstanding calls,
	// keyed by correlation id. Dispatch takes the matching entry when a
	// response arrives and re-registers it under the promise id when the
	// response merely announces a promise.
	PendingRegistrar interface {
		// TakePending removes and returns the entry for id, nil when
		// unknown.
		TakePending(id CallID) *CallHandle
		// RegisterPending adds an entry with no expiry; it lives until
		// resolved or the transport dies.
		RegisterPending(id CallID, h *CallHandle)
	}
)

// invoke runs the method on handler. The returned status is READY on
// success, the error-mapped status when the method returned an error, and
// the panic-mapped status when it panicked. rets is nil unless READY.
func (m *Method) invoke(handler any, args []any) (rets []reflect.Value, status FutureStatus) {
	defer func() {
		if r := recover(); r != nil {
			rets = nil
			if e, ok := r.(*Error); ok {
				status = e.Status
				Logger().Debug("handler raised call exception",
					tag.FunctionID(m.id), tag.FutureStatus(status.String()))
				return
			}
			status = StatusInternalError
			Logger().Error("handler panicked",
				tag.FunctionID(m.id), tag.Error(fmt.Errorf("%v", r)))
		}
	}()

	if len(args) != len(m.argTypes) {
		return nil, StatusInvalidDataReceived
	}
	in := make([]reflect.Value, 0, len(args)+1)
	in = append(in, reflect.ValueOf(handler))
	for i, a := range args {
		t := m.argTypes[i]
		v := reflect.ValueOf(a)
		switch {
		case !v.IsValid():
			v = reflect.Zero(t)
		case v.Type() == t || v.Type().AssignableTo(t):
		case v.Type().ConvertibleTo(t):
			v = v.Convert(t)
		default:
			return nil, StatusInvalidDataReceived
		}
		in = append(in, v)
	}

	rets = m.fn.Call(in)
	status = StatusReady
	switch m.kind {
	case retError:
		if err, _ := rets[0].Interface().(error); err != nil {
			status = StatusOf(err)
			rets = nil
		}
	case retValueError:
		if err, _ := rets[1].Interface().(error); err != nil {
			status = StatusOf(err)
			rets = nil
		}
	}
	return rets, status
}

// normalizeArgs converts caller arguments to the declared parameter types,
// applying the same conversion rules as invoke. Serialization uses the
// dynamic type of each argument, so a call must cross the wire with exactly
// the types the receiving trampoline reads back.
func (m *Method) normalizeArgs(args []any) ([]any, error) {
	if len(args) != len(m.argTypes) {
		return nil, NewError(StatusInvalidCall, "method %q takes %d arguments, got %d",
			m.name, len(m.argTypes), len(args))
	}
	out := make([]any, len(args))
	for i, a := range args {
		t := m.argTypes[i]
		v := reflect.ValueOf(a)
		switch {
		case !v.IsValid():
			out[i] = reflect.Zero(t).Interface()
		case v.Type() == t:
			out[i] = a
		case v.Type().ConvertibleTo(t):
			out[i] = v.Convert(t).Interface()
		default:
			return nil, NewError(StatusInvalidCall, "argument %d of %q: %v is not convertible to %v",
				i, m.name, v.Type(), t)
		}
	}
	return out, nil
}

// expectsResponse reports whether the method can be the target of a
// request call.
func (m *Method) expectsResponse() bool {
	return m.kind == retValue || m.kind == retValueError ||
		m.kind == retNativeFuture || m.kind == retPromise
}

// promiseBodySerializable reports whether a promise-kind return carries a
// serializable derived body on the wire (the third return-value case).
func (m *Method) promiseBodySerializable() bool {
	if m.kind != retPromise {
		return false
	}
	return reflect.PointerTo(m.retType).Implements(
		reflect.TypeOf((*serialization.Serializable)(nil)).Elem())
}

func (m *Method) readArgs(in *serialization.InputStream) []any {
	args := make([]any, 0, len(m.argTypes))
	for _, t := range m.argTypes {
		args = append(args, in.ReadValue(t))
	}
	return args
}

// serverFor locates the handler a call arriving at port targets.
func serverFor(port *RPCPort) any {
	srv := port.GetServer(false)
	if srv == nil {
		return nil
	}
	return srv.CallHandler()
}

// DeserializeAndExecuteMessage decodes a message body (after the common
// header) and runs the fire-and-forget path on the server reachable from
// port. Failures are logged, never propagated.
func (it *InterfaceType) DeserializeAndExecuteMessage(in *serialization.InputStream, port *RPCPort, fn uint8) {
	method := it.MethodByID(fn)
	if method == nil {
		Logger().Warn("message with invalid function id, dropped",
			tag.InterfaceName(it.name), tag.FunctionID(fn))
		return
	}
	args := method.readArgs(in)
	if err := in.Err(); err != nil {
		Logger().Warn("undecodable message, dropped",
			tag.InterfaceName(it.name), tag.FunctionID(fn), tag.Error(err))
		return
	}
	handler := serverFor(port)
	if handler == nil {
		Logger().Debug("message with no reachable server, dropped",
			tag.InterfaceName(it.name), tag.FunctionID(fn))
		return
	}
	if _, status := method.invoke(handler, args); status != StatusReady {
		Logger().Debug("message handler failed",
			tag.InterfaceName(it.name), tag.FunctionID(fn),
			tag.FutureStatus(status.String()))
	}
}

// DeserializeAndExecuteRequest decodes a request body (after the common
// header), executes it on the server reachable from port, and hands the
// response to sender. Responses of future-returning methods are handed
// over immediately but gated on the inner future; promise-returning
// methods produce the early promise announcement and bind the promise to
// sender for later fulfilment.
func (it *InterfaceType) DeserializeAndExecuteRequest(in *serialization.InputStream, port *RPCPort, fn uint8, sender ResponseSender) {
	callID := CallID(in.ReadUint64())
	timeout := in.ReadDuration()

	method := it.MethodByID(fn)
	if method == nil || !method.expectsResponse() {
		Logger().Warn("request with invalid function id, dropped",
			tag.InterfaceName(it.name), tag.FunctionID(fn), tag.CallID(uint64(callID)))
		return
	}
	args := method.readArgs(in)
	if err := in.Err(); err != nil {
		Logger().Warn("undecodable request",
			tag.InterfaceName(it.name), tag.FunctionID(fn), tag.Error(err))
		sendStatusResponse(sender, method, callID, StatusInvalidDataReceived)
		return
	}

	handler := serverFor(port)
	if handler == nil {
		sendStatusResponse(sender, method, callID, StatusNoConnection)
		return
	}

	rets, status := method.invoke(handler, args)
	if status != StatusReady {
		sendStatusResponse(sender, method, callID, status)
		return
	}

	h := Acquire()
	slot := h.Slot()
	slot.SetCallID(callID)
	resp := &Response{iface: it, fn: fn, callID: callID, status: StatusReady}

	switch method.kind {
	case retNativeFuture:
		fc := futureCarrierOf(rets[0])
		if fc == nil || fc.futureSlot() == nil {
			resp.status = StatusInternalError
			break
		}
		resp.inner = fc.futureSlot()
		resp.innerHandle = fc.futureHandle()
		slot.SetReadyGate(resp.inner)
		// the caller's response timeout bounds how long the gate may hold
		// the response back
		if timeout > 0 {
			guard := resp.inner.obtainFutureHandle()
			TimeSource().AfterFunc(timeout, func() {
				if guard.Slot().Status() == StatusPending {
					guard.Slot().SetException(StatusTimeout)
				}
				guard.Release()
			})
		}
	case retPromise:
		state := promiseStateOf(rets[0])
		if state == nil {
			resp.status = StatusInternalError
			break
		}
		promiseID := state.handle.Slot().CallID()
		state.bindRemote(sender, it, fn, promiseID)
		resp.promiseID = promiseID
		if method.promiseBodySerializable() {
			resp.promiseBody = addressableSerializable(rets[0])
		}
	default:
		resp.value = rets[0].Interface()
	}

	slot.setCall(resp, CallTypeResponse)
	sender.SendResponse(h)
}

// DeserializeAndHandleResponse decodes a response body (after the common
// header) and routes the outcome into the matching pending request taken
// from reg. A response matching no live request is skimmed and discarded.
func (it *InterfaceType) DeserializeAndHandleResponse(in *serialization.InputStream, fn uint8, reg PendingRegistrar) {
	callID := CallID(in.ReadUint64())
	isPromise := in.ReadBool()
	status := FutureStatus(in.ReadUint8())

	method := it.MethodByID(fn)
	if method == nil {
		Logger().Warn("response with invalid function id, dropped",
			tag.InterfaceName(it.name), tag.FunctionID(fn), tag.CallID(uint64(callID)))
		return
	}

	h := reg.TakePending(callID)
	if h == nil {
		it.skimResponsePayload(in, method, isPromise, status)
		logDroppedResult(status, callID)
		return
	}
	slot := h.Slot()

	if status != StatusReady {
		slot.SetException(status)
		h.Release()
		return
	}

	if isPromise {
		promiseID := CallID(in.ReadUint64())
		if method.promiseBodySerializable() {
			it.skimPromiseBody(in, method)
		}
		if err := in.Err(); err != nil {
			Logger().Warn("undecodable promise response",
				tag.InterfaceName(it.name), tag.FunctionID(fn), tag.Error(err))
			slot.SetException(StatusInvalidDataReceived)
			h.Release()
			return
		}
		// the call stays pending until the promise holder fulfils it
		reg.RegisterPending(promiseID, h)
		return
	}

	rt := slot.resultType
	if rt == nil {
		rt = method.resultType
	}
	value := in.ReadValue(rt)
	if err := in.Err(); err != nil {
		Logger().Warn("undecodable response payload",
			tag.InterfaceName(it.name), tag.FunctionID(fn), tag.Error(err))
		slot.SetException(StatusInvalidDataReceived)
		h.Release()
		return
	}
	slot.SetValue(value)
	h.Release()
}

// skimResponsePayload consumes the payload of an unmatched response so the
// stream stays aligned for any frames behind it.
func (it *InterfaceType) skimResponsePayload(in *serialization.InputStream, method *Method, isPromise bool, status FutureStatus) {
	if status != StatusReady {
		return
	}
	if isPromise {
		in.ReadUint64()
		if method.promiseBodySerializable() {
			it.skimPromiseBody(in, method)
		}
		return
	}
	if method.resultType != nil {
		in.ReadValue(method.resultType)
	}
}

func (it *InterfaceType) skimPromiseBody(in *serialization.InputStream, method *Method) {
	body := reflect.New(method.retType)
	body.Interface().(serialization.Serializable).DeserializeFrom(in)
}

// sendStatusResponse emits a payload-free response carrying a failure
// status.
func sendStatusResponse(sender ResponseSender, method *Method, callID CallID, status FutureStatus) {
	h := Acquire()
	slot := h.Slot()
	slot.SetCallID(callID)
	slot.setCall(&Response{
		iface:  method.iface,
		fn:     method.id,
		callID: callID,
		status: status,
	}, CallTypeResponse)
	sender.SendResponse(h)
}

// futureCarrierOf extracts the untyped future view from a returned value,
// copying value futures into addressable storage.
func futureCarrierOf(v reflect.Value) futureCarrier {
	if fc, ok := v.Interface().(futureCarrier); ok {
		return fc
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	fc, _ := p.Interface().(futureCarrier)
	return fc
}

// addressableSerializable copies a returned value so its pointer-receiver
// serialization methods are callable.
func addressableSerializable(v reflect.Value) serialization.Serializable {
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	s, _ := p.Interface().(serialization.Serializable)
	return s
}
