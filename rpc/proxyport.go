package rpc

import (
	"go.robomesh.io/rpcports/element"
)

// ProxyPort is a routing port: it both accepts and emits calls, forwarding
// them along its outgoing edge. Server-shaped proxies sit on the path
// toward a server, client-shaped proxies on the path toward clients; the
// shape only affects default connect direction.
type ProxyPort[T any] struct {
	iface *InterfaceType
	port  *RPCPort
}

// NewProxyPort creates a routing port of interface type T. serverShaped
// selects which side of the proxy faces the server by default.
func NewProxyPort[T any](iface *InterfaceType, serverShaped bool, opts PortOptions) *ProxyPort[T] {
	flags := element.FlagAcceptsData | element.FlagEmitsData
	if !serverShaped {
		flags |= element.FlagOutputPort
	}
	return &ProxyPort[T]{
		iface: iface,
		port:  NewRPCPort(opts, iface.DataType(), flags, nil),
	}
}

// WrapProxyPort rebinds an existing typeless port as a proxy façade. The
// port must carry both data flags and match the interface name.
func WrapProxyPort[T any](iface *InterfaceType, p *element.Port) (*ProxyPort[T], error) {
	if p == nil {
		return nil, NewError(StatusInvalidCall, "cannot wrap nil port")
	}
	if p.DataType().Name != iface.Name() {
		return nil, NewError(StatusInvalidCall, "port type %q does not match interface %q",
			p.DataType().Name, iface.Name())
	}
	f := p.Flags()
	if !f.Has(element.FlagAcceptsData | element.FlagEmitsData) {
		return nil, NewError(StatusInvalidCall, "port %q is not proxy shaped", p.QualifiedName())
	}
	rp := AsRPCPort(p)
	if rp == nil {
		return nil, NewError(StatusInvalidCall, "port %q is not an RPC port", p.QualifiedName())
	}
	return &ProxyPort[T]{iface: iface, port: rp}, nil
}

// InterfaceType returns the routed interface.
func (p *ProxyPort[T]) InterfaceType() *InterfaceType { return p.iface }

// Port returns the underlying typeless RPC port.
func (p *ProxyPort[T]) Port() *RPCPort { return p.port }

// ConnectTo wires the proxy toward another RPC port.
func (p *ProxyPort[T]) ConnectTo(other *RPCPort) error {
	return p.port.ConnectTo(other)
}

// ManagedDelete removes the proxy port from the graph.
func (p *ProxyPort[T]) ManagedDelete() error {
	return p.port.ManagedDelete()
}
