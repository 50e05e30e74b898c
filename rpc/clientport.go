package rpc

import (
	"time"

	"go.robomesh.io/rpcports/common/log/tag"
	"go.robomesh.io/rpcports/element"
)

// ClientPort is the typed client façade over an RPC port. Call modes are
// the package-level generics Call, CallAsync, CallSync, FutureCall and
// PromiseCall; they take the port together with a method expression of T.
type ClientPort[T any] struct {
	iface *InterfaceType
	port  *RPCPort
}

// clientFlags is the client shape: emits calls, never accepts them.
const clientFlags = element.FlagEmitsData | element.FlagOutputPort

// NewClientPort creates a client port of interface type T.
func NewClientPort[T any](iface *InterfaceType, opts PortOptions) *ClientPort[T] {
	return &ClientPort[T]{
		iface: iface,
		port:  NewRPCPort(opts, iface.DataType(), clientFlags, nil),
	}
}

// WrapClientPort rebinds an existing typeless port as a typed client
// façade. The port's runtime type name must match the registered interface
// and, unless ignoreFlags, its flags must be client shaped.
func WrapClientPort[T any](iface *InterfaceType, p *element.Port, ignoreFlags bool) (*ClientPort[T], error) {
	if p == nil {
		return nil, NewError(StatusInvalidCall, "cannot wrap nil port")
	}
	if p.DataType().Name != iface.Name() {
		return nil, NewError(StatusInvalidCall, "port type %q does not match interface %q",
			p.DataType().Name, iface.Name())
	}
	if !ignoreFlags {
		f := p.Flags()
		if !f.Has(element.FlagEmitsData) || f.Has(element.FlagAcceptsData) {
			return nil, NewError(StatusInvalidCall, "port %q is not client shaped", p.QualifiedName())
		}
	}
	rp := AsRPCPort(p)
	if rp == nil {
		return nil, NewError(StatusInvalidCall, "port %q is not an RPC port", p.QualifiedName())
	}
	return &ClientPort[T]{iface: iface, port: rp}, nil
}

// InterfaceType returns the interface this client speaks.
func (c *ClientPort[T]) InterfaceType() *InterfaceType { return c.iface }

// Port returns the underlying typeless RPC port.
func (c *ClientPort[T]) Port() *RPCPort { return c.port }

// ConnectTo wires the client toward a server or proxy port.
func (c *ClientPort[T]) ConnectTo(other *RPCPort) error {
	return c.port.ConnectTo(other)
}

// GetServerHandle returns the process-stable handle of the currently
// reachable server port, 0 when no server is reachable. Clients can watch
// this value to detect failover.
func (c *ClientPort[T]) GetServerHandle() element.Handle {
	srv := c.port.GetServer(true)
	if srv == nil {
		return 0
	}
	return srv.Handle()
}

// ManagedDelete removes the client port from the graph.
func (c *ClientPort[T]) ManagedDelete() error {
	return c.port.ManagedDelete()
}

// resolve splits the reachable server into the local and remote cases.
// Exactly one of handler and network is non-nil on success.
func (c *ClientPort[T]) resolve() (handler any, network *RPCPort, ok bool) {
	srv := c.port.GetServer(true)
	if srv == nil {
		return nil, nil, false
	}
	if srv.IsServer() {
		return srv.CallHandler(), nil, true
	}
	return nil, srv, true
}

// Call is the fire-and-forget mode. A local server is invoked directly
// with call exceptions logged; a remote server receives a message call;
// with no server reachable the call is silently dropped.
func Call[T any](c *ClientPort[T], methodExpr any, args ...any) {
	method, err := c.iface.MethodOf(methodExpr)
	if err != nil {
		c.port.logger.Error("call on unregistered method", tag.Error(err))
		return
	}
	args, err = method.normalizeArgs(args)
	if err != nil {
		c.port.logger.Error("call arguments do not match method signature", tag.Error(err))
		return
	}
	handler, network, ok := c.resolve()
	if !ok {
		c.port.logger.Debug("no server reachable, message dropped",
			tag.InterfaceName(c.iface.Name()), tag.FunctionID(method.ID()))
		return
	}
	if handler != nil {
		if _, status := method.invoke(handler, args); status != StatusReady {
			c.port.logger.Debug("message handler failed",
				tag.InterfaceName(c.iface.Name()), tag.FunctionID(method.ID()),
				tag.FutureStatus(status.String()))
		}
		return
	}
	h := Acquire()
	h.Slot().sourcePort = c.port.Handle()
	newMessage(h, method, args)
	network.SendCall(h)
}

// CallAsync invokes the method and reports the outcome through handler,
// which is called exactly once. R must be the method's result type. With
// no server reachable the handler receives NO_CONNECTION.
func CallAsync[R any, T any](c *ClientPort[T], rh ResponseHandler[R], methodExpr any, args ...any) {
	method, err := c.iface.MethodOf(methodExpr)
	if err != nil {
		rh.HandleException(StatusInvalidCall)
		return
	}
	// only plain value returns; future and promise results go through
	// FutureCall and friends
	if method.kind != retValue && method.kind != retValueError {
		rh.HandleException(StatusInvalidCall)
		return
	}
	args, err = method.normalizeArgs(args)
	if err != nil {
		rh.HandleException(StatusInvalidCall)
		return
	}
	handler, network, ok := c.resolve()
	if !ok {
		rh.HandleException(StatusNoConnection)
		return
	}
	if handler != nil {
		rets, status := method.invoke(handler, args)
		if status != StatusReady {
			rh.HandleException(status)
			return
		}
		v, okType := rets[0].Interface().(R)
		if !okType {
			rh.HandleException(StatusInvalidDataReceived)
			return
		}
		rh.HandleResponse(v)
		return
	}
	h := Acquire()
	slot := h.Slot()
	slot.sourcePort = c.port.Handle()
	newRequest(h, method, DefaultResponseTimeout, args)
	slot.setHandler(handlerAdapter[R]{h: rh})
	network.SendCall(h)
}

// CallSync invokes the method and blocks until the result arrives or
// timeout elapses. Failures surface as *Error.
func CallSync[R any, T any](c *ClientPort[T], timeout time.Duration, methodExpr any, args ...any) (R, error) {
	var zero R
	method, err := c.iface.MethodOf(methodExpr)
	if err != nil {
		return zero, err
	}
	if !method.expectsResponse() {
		return zero, NewError(StatusInvalidCall, "method %q returns no value", method.Name())
	}
	args, err = method.normalizeArgs(args)
	if err != nil {
		return zero, err
	}
	handler, _, ok := c.resolve()
	if ok && handler != nil && method.kind != retNativeFuture && method.kind != retPromise {
		rets, status := method.invoke(handler, args)
		if status != StatusReady {
			return zero, NewError(status, "call failed")
		}
		v, okType := rets[0].Interface().(R)
		if !okType {
			return zero, NewError(StatusInvalidDataReceived, "result has unexpected type")
		}
		return v, nil
	}
	fut := futureCall[R](c, method, timeout, args)
	defer fut.Release()
	return fut.Get(timeout)
}

// FutureCall invokes the method and returns a future for its result. With
// no server reachable the future is pre-loaded with NO_CONNECTION. For
// promise-returning methods the future resolves when the promise holder
// fulfils it.
func FutureCall[R any, T any](c *ClientPort[T], methodExpr any, args ...any) *Future[R] {
	method, err := c.iface.MethodOf(methodExpr)
	if err != nil {
		return completedFuture[R](StatusInvalidCall, nil)
	}
	if !method.expectsResponse() {
		return completedFuture[R](StatusInvalidCall, nil)
	}
	return futureCall[R](c, method, DefaultResponseTimeout, args)
}

// futureCall implements the future mode for an already resolved method.
// timeout is the response timeout written into the request; remote peers
// and the pending table use it to bound the call's lifetime.
func futureCall[R any, T any](c *ClientPort[T], method *Method, timeout time.Duration, args []any) *Future[R] {
	args, err := method.normalizeArgs(args)
	if err != nil {
		return completedFuture[R](StatusInvalidCall, nil)
	}
	handler, network, ok := c.resolve()
	if !ok {
		return completedFuture[R](StatusNoConnection, nil)
	}
	if handler != nil {
		return localFutureCall[R](c, method, handler, args)
	}
	h := Acquire()
	slot := h.Slot()
	slot.sourcePort = c.port.Handle()
	newRequest(h, method, timeout, args)
	fut := newFuture[R](slot.obtainFutureHandle())
	network.SendCall(h)
	return fut
}

// localFutureCall short-circuits a future call onto an in-process server.
func localFutureCall[R any, T any](c *ClientPort[T], method *Method, handler any, args []any) *Future[R] {
	rets, status := method.invoke(handler, args)
	if status != StatusReady {
		return completedFuture[R](status, nil)
	}
	switch method.kind {
	case retNativeFuture:
		fc := futureCarrierOf(rets[0])
		if fc == nil || fc.futureHandle() == nil {
			return completedFuture[R](StatusInternalError, nil)
		}
		return newFuture[R](fc.futureHandle())
	case retPromise:
		state := promiseStateOf(rets[0])
		if state == nil {
			return completedFuture[R](StatusInternalError, nil)
		}
		slot := state.handle.Slot()
		slot.mu.Lock()
		if slot.futureObtained {
			slot.mu.Unlock()
			return completedFuture[R](StatusInvalidCall, nil)
		}
		slot.futureObtained = true
		slot.mu.Unlock()
		return newFuture[R](slot.obtainFutureHandle())
	default:
		return completedFuture[R](StatusReady, rets[0].Interface())
	}
}

// NativeFutureCall is FutureCall restricted to methods whose declared
// return type is already a future; the server-side response is gated on
// that inner future.
func NativeFutureCall[R any, T any](c *ClientPort[T], methodExpr any, args ...any) *Future[R] {
	method, err := c.iface.MethodOf(methodExpr)
	if err != nil || method.kind != retNativeFuture {
		return completedFuture[R](StatusInvalidCall, nil)
	}
	return FutureCall[R](c, methodExpr, args...)
}

// PromiseCall is FutureCall restricted to promise-returning methods.
func PromiseCall[R any, T any](c *ClientPort[T], methodExpr any, args ...any) *Future[R] {
	method, err := c.iface.MethodOf(methodExpr)
	if err != nil || method.kind != retPromise {
		return completedFuture[R](StatusInvalidCall, nil)
	}
	return FutureCall[R](c, methodExpr, args...)
}
