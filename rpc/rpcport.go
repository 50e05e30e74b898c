package rpc

import (
	"go.robomesh.io/rpcports/common/log"
	"go.robomesh.io/rpcports/common/log/tag"
	"go.robomesh.io/rpcports/element"
)

type (
	// CallSender forwards serialized-call handles across a transport
	// boundary. Network-element ports are backed by one.
	CallSender interface {
		SendCall(h *CallHandle)
	}

	// PortOptions configures creation of an RPC port or one of its typed
	// façades.
	PortOptions struct {
		Name   string
		Parent *element.Element
		// Flags is OR-ed into the role flags the façade sets itself.
		Flags element.Flags
		// Logger overrides the package logger for this port.
		Logger log.Logger
	}

	// RPCPort is the typeless port RPC façades are layered on. It knows
	// whether it is client, server, proxy or network shaped, locates the
	// reachable server by walking outgoing edges, and enforces the
	// one-server invariant on connect.
	RPCPort struct {
		port    *element.Port
		handler any
		sender  CallSender
		logger  log.Logger
	}
)

// maxServerWalkDepth caps the proxy chain walked by GetServer.
const maxServerWalkDepth = 100

// NewRPCPort creates a typeless RPC port. handler is the server handler
// object, nil for client/proxy/network shapes. Ports carrying the DELETED
// flag are not materialized in the graph.
func NewRPCPort(opts PortOptions, dataType element.DataType, flags element.Flags, handler any) *RPCPort {
	logger := opts.Logger
	if logger == nil {
		logger = Logger()
	}
	p := &RPCPort{handler: handler, logger: logger}
	if (opts.Flags | flags).Has(element.FlagDeleted) {
		return p
	}
	p.port = element.NewPort(opts.Parent, opts.Name, dataType, opts.Flags|flags)
	p.port.SetOwner(p)
	p.port.SetHooks(p)
	return p
}

// AsRPCPort returns the RPC port layered on p, nil when p is not an RPC
// port.
func AsRPCPort(p *element.Port) *RPCPort {
	if p == nil {
		return nil
	}
	rp, _ := p.Owner().(*RPCPort)
	return rp
}

// Port returns the underlying framework port, nil for DELETED-flagged
// creations.
func (p *RPCPort) Port() *element.Port { return p.port }

// Handle returns the process-stable handle, 0 when no port was created.
func (p *RPCPort) Handle() element.Handle {
	if p.port == nil {
		return 0
	}
	return p.port.Handle()
}

// IsServer reports whether this port accepts calls without emitting them.
func (p *RPCPort) IsServer() bool {
	if p.port == nil {
		return false
	}
	f := p.port.Flags()
	return f.Has(element.FlagAcceptsData) && !f.Has(element.FlagEmitsData)
}

// IsNetworkPort reports whether this port forwards calls across a
// transport boundary.
func (p *RPCPort) IsNetworkPort() bool {
	return p.port != nil && p.port.Flags().Has(element.FlagNetworkElement)
}

// CallHandler returns the server handler object, nil for non-servers.
func (p *RPCPort) CallHandler() any { return p.handler }

// SetCallSender installs the transport behind a network-element port.
func (p *RPCPort) SetCallSender(s CallSender) { p.sender = s }

// GetServer walks outgoing edges through proxy ports and returns the first
// server port, or with includeNetwork the first network-element port, or
// nil when none is reachable. The walk follows the first outgoing edge of
// every hop.
func (p *RPCPort) GetServer(includeNetwork bool) *RPCPort {
	current := p
	for depth := 0; depth < maxServerWalkDepth; depth++ {
		if current.IsServer() {
			return current
		}
		if includeNetwork && current.IsNetworkPort() {
			return current
		}
		if current.port == nil {
			return nil
		}
		next := AsRPCPort(current.port.FirstOutgoing())
		if next == nil {
			return nil
		}
		current = next
	}
	p.logger.Warn("server walk exceeded depth limit", tag.Port(p.port.QualifiedName()))
	return nil
}

// reachesServer reports whether this port is, or can reach, a server or a
// network boundary.
func (p *RPCPort) reachesServer() bool {
	return p.GetServer(true) != nil
}

// SendCall hands an outgoing call to the transport behind this port.
// Non-network ports log and drop; a call expecting a response is released
// so its consumer observes NO_CONNECTION.
func (p *RPCPort) SendCall(h *CallHandle) {
	if p.sender == nil {
		name := ""
		if p.port != nil {
			name = p.port.QualifiedName()
		}
		p.logger.Error("send on port without transport", tag.Port(name),
			tag.CallType(h.Slot().CallType().String()))
		if h.Slot().ExpectsResponse() {
			h.Slot().SetException(StatusNoConnection)
		}
		h.Release()
		return
	}
	p.sender.SendCall(h)
}

/// ConnectionAdded enforces the one-server invariant: when this port gained
// a new downstream partner, every older outgoing edge is disconnected.
func (p *RPCPort) ConnectionAdded(partner *element.Port, partnerIsDestination bool) {
	if !partnerIsDestination || p.port == nil {
		return
	}
	for _, other := range p.port.OutgoingConnections() {
		if other != partner {
			p.logger.Warn("port already connected to a server, disconnecting older edge",
				tag.Port(p.port.QualifiedName()), tag.PartnerPort(other.QualifiedName()))
			p.port.DisconnectFrom(other)
		}
	}
}

// InferConnectDirection connects toward the side that already reaches a
// server. When both sides do, the framework default applies.
func (p *RPCPort) InferConnectDirection(other *element.Port) element.Direction {
	otherRPC := AsRPCPort(other)
	thisReaches := p.reachesServer()
	otherReaches := otherRPC != nil && otherRPC.reachesServer()
	switch {
	case thisReaches && otherReaches:
		p.logger.Warn("both ports reach a server, using default connect direction",
			tag.Port(p.port.QualifiedName()), tag.PartnerPort(other.QualifiedName()))
		return element.DirectionNone
	case otherReaches:
		return element.DirectionToTarget
	case thisReaches:
		return element.DirectionToSource
	}
	return element.DirectionNone
}

// ConnectTo wires this port with another RPC port.
func (p *RPCPort) ConnectTo(other *RPCPort) error {
	if p.port == nil || other == nil || other.port == nil {
		return NewError(StatusNoConnection, "port not materialized")
	}
	return p.port.ConnectTo(other.port)
}

// DisconnectAll removes every edge of this port.
func (p *RPCPort) DisconnectAll() {
	if p.port != nil {
		p.port.DisconnectAll()
	}
}

// ManagedDelete removes the port from the graph.
func (p *RPCPort) ManagedDelete() error {
	if p.port == nil {
		return nil
	}
	return p.port.ManagedDelete()
}
