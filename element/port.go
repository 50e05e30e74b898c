package element

import (
	"errors"

	"github.com/emirpasic/gods/sets/linkedhashset"
)

type (
	// Direction selects which side of a new connection becomes the edge source.
	Direction int

	// Hooks customizes connection behavior of a port. The RPC layer installs
	// hooks to enforce its one-server invariant and flag-based direction
	// inference.
	Hooks interface {
		// ConnectionAdded is fired after an edge involving this port was
		// added. partnerIsDestination is true when this port is the source.
		// The graph lock is not held; the hook may disconnect edges.
		ConnectionAdded(partner *Port, partnerIsDestination bool)
		// InferConnectDirection decides the edge direction for ConnectTo.
		// Return DirectionNone to fall back to the default flag policy.
		InferConnectDirection(other *Port) Direction
	}

	// Port is a framework element that can be wired to other ports.
	// Outgoing edges preserve insertion order; the first outgoing edge is
	// the one followed when locating a server.
	Port struct {
		Element
		dataType DataType
		owner    any
		hooks    Hooks
		outgoing *linkedhashset.Set
		incoming *linkedhashset.Set
	}
)

const (
	// DirectionNone defers to the default policy.
	DirectionNone Direction = iota
	// DirectionToTarget makes this port the edge source.
	DirectionToTarget
	// DirectionToSource makes the other port the edge source.
	DirectionToSource
)

// NewPort creates a port below parent and registers it in the process-wide
// handle table.
func NewPort(parent *Element, name string, dataType DataType, flags Flags) *Port {
	p := &Port{
		Element: Element{
			name:   name,
			parent: parent,
			flags:  flags,
			handle: Handle(nextHandle.Add(1)),
		},
		dataType: dataType,
		outgoing: linkedhashset.New(),
		incoming: linkedhashset.New(),
	}
	p.Element.port = p
	graphMu.Lock()
	if parent != nil {
		parent.children = append(parent.children, &p.Element)
	}
	portsByID[p.handle] = p
	graphMu.Unlock()
	return p
}

// Lookup resolves a port by its process-stable handle, nil when unknown.
func Lookup(h Handle) *Port {
	graphMu.RLock()
	defer graphMu.RUnlock()
	return portsByID[h]
}

// DataType returns the run-time type record of this port.
func (p *Port) DataType() DataType {
	return p.dataType
}

// SetOwner attaches the owning wrapper (e.g. an RPC port) to this port.
func (p *Port) SetOwner(owner any) {
	p.owner = owner
}

// Owner returns the wrapper attached via SetOwner.
func (p *Port) Owner() any {
	return p.owner
}

// SetHooks installs connection hooks. Must happen before the port is wired.
func (p *Port) SetHooks(h Hooks) {
	p.hooks = h
}

// ConnectTo wires this port with other. The edge direction is taken from
// this port's hooks, then from the other port's hooks, then from the
// output-port flag.
func (p *Port) ConnectTo(other *Port) error {
	if other == nil {
		return errors.New("cannot connect to nil port")
	}
	dir := DirectionNone
	if p.hooks != nil {
		dir = p.hooks.InferConnectDirection(other)
	}
	if dir == DirectionNone && other.hooks != nil {
		switch other.hooks.InferConnectDirection(p) {
		case DirectionToTarget:
			dir = DirectionToSource
		case DirectionToSource:
			dir = DirectionToTarget
		}
	}
	if dir == DirectionNone {
		dir = p.defaultInferDirection(other)
	}

	source, dest := p, other
	if dir == DirectionToSource {
		source, dest = other, p
	}

	graphMu.Lock()
	if source.flags.Has(FlagDeleted) || dest.flags.Has(FlagDeleted) {
		graphMu.Unlock()
		return errors.New("cannot connect deleted ports")
	}
	if source.outgoing.Contains(dest) {
		graphMu.Unlock()
		return nil
	}
	source.outgoing.Add(dest)
	dest.incoming.Add(source)
	graphMu.Unlock()

	// hooks run without the graph lock so they may disconnect edges
	if source.hooks != nil {
		source.hooks.ConnectionAdded(dest, true)
	}
	if dest.hooks != nil {
		dest.hooks.ConnectionAdded(source, false)
	}
	return nil
}

func (p *Port) defaultInferDirection(other *Port) Direction {
	if p.flags.Has(FlagOutputPort) {
		return DirectionToTarget
	}
	if other.flags.Has(FlagOutputPort) {
		return DirectionToSource
	}
	return DirectionToTarget
}

// DisconnectFrom removes any edge between the two ports.
func (p *Port) DisconnectFrom(other *Port) {
	graphMu.Lock()
	p.outgoing.Remove(other)
	p.incoming.Remove(other)
	other.outgoing.Remove(p)
	other.incoming.Remove(p)
	graphMu.Unlock()
}

// DisconnectAll removes all edges of this port.
func (p *Port) DisconnectAll() {
	graphMu.Lock()
	p.disconnectAllLocked()
	graphMu.Unlock()
}

func (p *Port) disconnectAllLocked() {
	for _, v := range p.outgoing.Values() {
		other := v.(*Port)
		other.incoming.Remove(p)
	}
	for _, v := range p.incoming.Values() {
		other := v.(*Port)
		other.outgoing.Remove(p)
	}
	p.outgoing.Clear()
	p.incoming.Clear()
}

// OutgoingConnections returns a stable snapshot of outgoing edges in
// insertion order.
func (p *Port) OutgoingConnections() []*Port {
	graphMu.RLock()
	defer graphMu.RUnlock()
	values := p.outgoing.Values()
	out := make([]*Port, 0, len(values))
	for _, v := range values {
		out = append(out, v.(*Port))
	}
	return out
}

// FirstOutgoing returns the first outgoing edge, nil when there is none.
func (p *Port) FirstOutgoing() *Port {
	graphMu.RLock()
	defer graphMu.RUnlock()
	it := p.outgoing.Iterator()
	if it.Next() {
		return it.Value().(*Port)
	}
	return nil
}

// IncomingConnections returns a stable snapshot of incoming edges.
func (p *Port) IncomingConnections() []*Port {
	graphMu.RLock()
	defer graphMu.RUnlock()
	values := p.incoming.Values()
	in := make([]*Port, 0, len(values))
	for _, v := range values {
		in = append(in, v.(*Port))
	}
	return in
}
