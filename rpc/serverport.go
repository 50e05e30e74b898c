package rpc

import (
	"go.robomesh.io/rpcports/element"
)

// ServerPort is the typed server façade: it binds a user-owned handler
// implementing T and accepts calls dispatched to it.
type ServerPort[T any] struct {
	iface   *InterfaceType
	handler T
	port    *RPCPort
}

// serverFlags is the server shape: accepts calls, never emits them.
const serverFlags = element.FlagAcceptsData

// NewServerPort creates a server port of interface type T bound to
// handler. With the DELETED flag in opts no underlying port is created.
func NewServerPort[T any](iface *InterfaceType, handler T, opts PortOptions) *ServerPort[T] {
	return &ServerPort[T]{
		iface:   iface,
		handler: handler,
		port:    NewRPCPort(opts, iface.DataType(), serverFlags, handler),
	}
}

// WrapServerPort rebinds an existing typeless port as a typed server
// façade. The port's runtime type name must match the interface and its
// flags must be server shaped.
func WrapServerPort[T any](iface *InterfaceType, p *element.Port) (*ServerPort[T], error) {
	if p == nil {
		return nil, NewError(StatusInvalidCall, "cannot wrap nil port")
	}
	if p.DataType().Name != iface.Name() {
		return nil, NewError(StatusInvalidCall, "port type %q does not match interface %q",
			p.DataType().Name, iface.Name())
	}
	f := p.Flags()
	if !f.Has(element.FlagAcceptsData) || f.Has(element.FlagEmitsData) {
		return nil, NewError(StatusInvalidCall, "port %q is not server shaped", p.QualifiedName())
	}
	rp := AsRPCPort(p)
	if rp == nil {
		return nil, NewError(StatusInvalidCall, "port %q is not an RPC port", p.QualifiedName())
	}
	handler, ok := rp.CallHandler().(T)
	if !ok {
		return nil, NewError(StatusInvalidCall, "handler of port %q does not implement the interface",
			p.QualifiedName())
	}
	return &ServerPort[T]{iface: iface, handler: handler, port: rp}, nil
}

// InterfaceType returns the interface this server implements.
func (s *ServerPort[T]) InterfaceType() *InterfaceType { return s.iface }

// Handler returns the bound handler object.
func (s *ServerPort[T]) Handler() T { return s.handler }

// Port returns the underlying typeless RPC port.
func (s *ServerPort[T]) Port() *RPCPort { return s.port }

// Handle returns the process-stable handle of the server port.
func (s *ServerPort[T]) Handle() element.Handle { return s.port.Handle() }

// ManagedDelete removes the server port from the graph.
func (s *ServerPort[T]) ManagedDelete() error {
	return s.port.ManagedDelete()
}
