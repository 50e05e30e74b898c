package rpc

import (
	"time"

	"go.robomesh.io/rpcports/serialization"
)

type (
	// Message is a fire-and-forget call: arguments only, no reply path.
	Message struct {
		iface *InterfaceType
		fn    uint8
		args  []any
	}

	// Request carries the arguments of a call expecting a response,
	// together with the correlation id and the response timeout. The slot
	// holding the request keeps the result buffer; responseFor routes an
	// inbound response payload into it.
	Request struct {
		iface    *InterfaceType
		fn       uint8
		slot     *CallStorage
		argsList []any
	}

	// Response carries a call outcome back to the requester: status, and
	// on READY the return payload. A response for a future-returning
	// server method defers to the inner future's slot; such responses are
	// gated in the send queue until the inner slot leaves PENDING.
	Response struct {
		iface  *InterfaceType
		fn     uint8
		callID CallID
		status FutureStatus
		value  any

		// promise-return case: the early response announcing the promise
		promiseID   CallID
		promiseBody serialization.Serializable

		// native-future case: outcome is read from the inner slot at
		// serialization time
		inner       *CallStorage
		innerHandle *CallHandle
	}
)

func writeHeader(out *serialization.OutputStream, iface *InterfaceType, fn uint8) {
	out.WriteUint32(iface.tag)
	out.WriteUint8(fn)
}

// Serialize layout: type tag, function index, argument tuple.
func (m *Message) Serialize(out *serialization.OutputStream) {
	writeHeader(out, m.iface, m.fn)
	for _, a := range m.args {
		out.WriteValue(a)
	}
}

// newMessage places a message payload into the slot of h.
func newMessage(h *CallHandle, method *Method, args []any) {
	slot := h.Slot()
	slot.setCall(&Message{iface: method.iface, fn: method.id, args: args}, CallTypeMessage)
}

// Request serializes as: type tag, function index, call id, timeout,
// argument tuple.
func (r *Request) Serialize(out *serialization.OutputStream) {
	writeHeader(out, r.iface, r.fn)
	out.WriteUint64(uint64(r.slot.callID))
	out.WriteDuration(r.slot.timeout)
	for _, a := range r.argsList {
		out.WriteValue(a)
	}
}

// newRequest places a request payload into the slot of h and prepares the
// slot's correlation id, timeout and result type.
func newRequest(h *CallHandle, method *Method, timeout time.Duration, args []any) *Request {
	slot := h.Slot()
	slot.SetCallID(NewCallID())
	slot.timeout = timeout
	slot.resultType = method.resultType
	r := &Request{iface: method.iface, fn: method.id, slot: slot, argsList: args}
	slot.setCall(r, CallTypeRequest)
	return r
}

// isPromiseResponse reports whether this is the early response of a
// promise-returning method.
func (r *Response) isPromiseResponse() bool {
	return r.promiseID != 0
}

// Serialize layout: type tag, function index, call id, promise flag,
// status, and on READY the return payload. A gated response reads status
// and value from the inner slot.
func (r *Response) Serialize(out *serialization.OutputStream) {
	writeHeader(out, r.iface, r.fn)
	out.WriteUint64(uint64(r.callID))
	out.WriteBool(r.isPromiseResponse())

	status, value := r.status, r.value
	if r.inner != nil {
		status = r.inner.Status()
		if status == StatusPending {
			// transports gate on ReadyForSending; a pending inner slot
			// here is a queue-discipline violation
			status = StatusInternalError
		}
		value = r.inner.result
	}
	out.WriteUint8(uint8(status))
	if status != StatusReady {
		return
	}
	if r.isPromiseResponse() {
		out.WriteUint64(uint64(r.promiseID))
		if r.promiseBody != nil {
			r.promiseBody.SerializeTo(out)
		}
		return
	}
	out.WriteValue(value)
}

// releaseRefs drops the reference a gated response keeps on the inner
// future's slot. Runs when the carrying slot recycles.
func (r *Response) releaseRefs() {
	if r.innerHandle != nil {
		r.innerHandle.Release()
		r.innerHandle = nil
	}
}
