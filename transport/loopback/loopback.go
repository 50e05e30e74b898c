// Package loopback provides an in-process transport pairing two framework
// graphs. Calls crossing the pair are fully serialized and dispatched
// through the interface registry, so the wire path behaves exactly like a
// real network transport: responses are correlated through a pending
// table, late responses are discarded, and peer death breaks every
// outstanding promise.
package loopback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go.robomesh.io/rpcports/common/clock"
	"go.robomesh.io/rpcports/common/log"
	"go.robomesh.io/rpcports/common/log/tag"
	"go.robomesh.io/rpcports/element"
	"go.robomesh.io/rpcports/rpc"
	"go.robomesh.io/rpcports/serialization"
)

type (
	// Options tune a loopback pair.
	Options struct {
		// Latency delays every frame delivery.
		Latency time.Duration
		// PendingGrace extends the lifetime of a pending call past its
		// response timeout before the entry is pruned.
		PendingGrace time.Duration
		// DispatchLimit caps concurrently dispatched inbound frames.
		DispatchLimit int
		Logger        log.Logger
		TimeSource    clock.TimeSource
	}

	// Pair is a bidirectional loopback link between two graphs.
	Pair struct {
		A, B *Endpoint
	}

	// Endpoint is one side of a loopback pair. Its network-element port is
	// wired into the local graph; frames received from the peer are
	// decoded and dispatched through the interface registry.
	Endpoint struct {
		id     uuid.UUID
		name   string
		opts   Options
		logger log.Logger
		ts     clock.TimeSource

		port  *rpc.RPCPort
		peer  *Endpoint
		group *errgroup.Group

		frameMu     sync.Mutex
		frames      chan []byte
		frameClosed bool

		closed atomic.Bool

		pendingMu sync.Mutex
		pending   map[rpc.CallID]*pendingEntry
	}

	pendingEntry struct {
		handle *rpc.CallHandle
		// zero deadline means no expiry (promise-bound entries)
		deadline time.Time
	}
)

const (
	defaultPendingGrace  = 100 * time.Millisecond
	defaultDispatchLimit = 16
	frameBuffer          = 64
)

// NewPair links two graphs for calls of one interface type. Endpoint A
// carries a network port below parentA, endpoint B below parentB; callers
// wire their client ports to A.Port() and B.Port() to the server port.
func NewPair(iface *rpc.InterfaceType, parentA, parentB *element.Element, name string, opts Options) *Pair {
	if opts.Logger == nil {
		opts.Logger = rpc.Logger()
	}
	if opts.TimeSource == nil {
		opts.TimeSource = clock.NewRealTimeSource()
	}
	if opts.PendingGrace <= 0 {
		opts.PendingGrace = defaultPendingGrace
	}
	if opts.DispatchLimit <= 0 {
		opts.DispatchLimit = defaultDispatchLimit
	}

	a := newEndpoint(iface, parentA, name+"-a", opts)
	b := newEndpoint(iface, parentB, name+"-b", opts)
	a.peer, b.peer = b, a
	a.start()
	b.start()
	return &Pair{A: a, B: b}
}

// Close tears the pair down. Outstanding calls on both sides observe
// BROKEN_PROMISE.
func (p *Pair) Close() {
	p.A.Kill()
}

func newEndpoint(iface *rpc.InterfaceType, parent *element.Element, name string, opts Options) *Endpoint {
	e := &Endpoint{
		id:      uuid.New(),
		name:    name,
		opts:    opts,
		logger:  log.With(opts.Logger, tag.TransportPeer(name)),
		ts:      opts.TimeSource,
		frames:  make(chan []byte, frameBuffer),
		pending: make(map[rpc.CallID]*pendingEntry),
	}
	group := &errgroup.Group{}
	group.SetLimit(opts.DispatchLimit)
	e.group = group
	e.port = rpc.NewRPCPort(
		rpc.PortOptions{Name: name, Parent: parent, Logger: e.logger},
		iface.DataType(),
		element.FlagAcceptsData|element.FlagEmitsData|element.FlagNetworkElement,
		nil,
	)
	e.port.SetCallSender(e)
	return e
}

func (e *Endpoint) start() {
	go e.receiveLoop()
	e.ts.AfterFunc(e.opts.PendingGrace/2, e.pruneTick)
}

// Port returns the network-element port of this endpoint.
func (e *Endpoint) Port() *rpc.RPCPort { return e.port }

// ID returns the endpoint's identity, for logging and diagnostics.
func (e *Endpoint) ID() uuid.UUID { return e.id }

// Kill tears the link down abruptly, as a dead peer would. Pending calls
// on both sides fail with BROKEN_PROMISE within one prune interval.
func (e *Endpoint) Kill() {
	if e.closed.Swap(true) {
		return
	}
	e.closeInbound()
	e.peer.peerDied()
}

func (e *Endpoint) peerDied() {
	e.closed.Store(true)
	e.closeInbound()
}

func (e *Endpoint) closeInbound() {
	e.frameMu.Lock()
	if !e.frameClosed {
		e.frameClosed = true
		close(e.frames)
	}
	e.frameMu.Unlock()
}

// SendCall serializes an outgoing call and delivers it to the peer. Calls
// expecting a response enter the pending table; the handle is held there
// until the response arrives, the entry expires, or the link dies. Gated
// calls wait for their ready-for-sending indication first.
func (e *Endpoint) SendCall(h *rpc.CallHandle) {
	if e.closed.Load() {
		slot := h.Slot()
		if slot.ExpectsResponse() {
			slot.SetException(rpc.StatusNoConnection)
		}
		h.Release()
		return
	}
	if ch := h.Slot().ReadyGateCh(); ch != nil {
		e.group.Go(func() error {
			<-ch
			e.transmit(h)
			return nil
		})
		return
	}
	e.transmit(h)
}

// SendResponse implements rpc.ResponseSender.
func (e *Endpoint) SendResponse(h *rpc.CallHandle) {
	e.SendCall(h)
}

func (e *Endpoint) transmit(h *rpc.CallHandle) {
	slot := h.Slot()
	if e.closed.Load() {
		if slot.ExpectsResponse() {
			slot.SetException(rpc.StatusNoConnection)
		}
		h.Release()
		return
	}
	out := serialization.NewOutputStream()
	out.WriteUint8(uint8(slot.CallType()))
	slot.Serialize(out)
	if err := out.Err(); err != nil {
		e.logger.Error("failed to serialize call", tag.Error(err),
			tag.CallID(uint64(slot.CallID())), tag.CallType(slot.CallType().String()))
		if slot.ExpectsResponse() {
			slot.SetException(rpc.StatusInternalError)
		}
		h.Release()
		return
	}

	if slot.ExpectsResponse() {
		e.RegisterPendingUntil(slot.CallID(), h,
			e.ts.Now().Add(slot.ResponseTimeout()+e.opts.PendingGrace))
	} else {
		h.Release()
	}

	frame := out.Bytes()
	if e.opts.Latency > 0 {
		e.ts.AfterFunc(e.opts.Latency, func() { e.peer.deliver(frame) })
		return
	}
	e.peer.deliver(frame)
}

func (e *Endpoint) deliver(frame []byte) {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()
	if e.frameClosed {
		return
	}
	select {
	case e.frames <- frame:
	default:
		e.logger.Warn("inbound frame queue full, dropping frame")
	}
}

func (e *Endpoint) receiveLoop() {
	for frame := range e.frames {
		f := frame
		e.group.Go(func() error {
			e.dispatch(f)
			return nil
		})
	}
	// link is down; break every outstanding promise on this side
	e.failAllPending()
}

func (e *Endpoint) dispatch(frame []byte) {
	in := serialization.NewInputStream(frame)
	callType := rpc.CallType(in.ReadUint8())
	typeTag := in.ReadUint32()
	fn := in.ReadUint8()
	if err := in.Err(); err != nil {
		e.logger.Warn("truncated frame, dropped", tag.Error(err))
		return
	}
	it := rpc.LookupInterfaceTypeByTag(typeTag)
	if it == nil {
		e.logger.Warn("frame for unknown interface type, dropped")
		return
	}
	switch callType {
	case rpc.CallTypeMessage:
		it.DeserializeAndExecuteMessage(in, e.port, fn)
	case rpc.CallTypeRequest:
		it.DeserializeAndExecuteRequest(in, e.port, fn, e)
	case rpc.CallTypeResponse:
		it.DeserializeAndHandleResponse(in, fn, e)
	default:
		e.logger.Warn("frame with unknown call type, dropped",
			tag.InterfaceName(it.Name()))
	}
}

// TakePending implements rpc.PendingRegistrar.
func (e *Endpoint) TakePending(id rpc.CallID) *rpc.CallHandle {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	entry, ok := e.pending[id]
	if !ok {
		return nil
	}
	delete(e.pending, id)
	return entry.handle
}

/// RegisterPending implements rpc.PendingRegistrar: entries registered by
// dispatch (promise announcements) have no expiry.
func (e *Endpoint) RegisterPending(id rpc.CallID, h *rpc.CallHandle) {
	e.RegisterPendingUntil(id, h, time.Time{})
}

// RegisterPendingUntil adds a pending entry pruned after deadline; a zero
// deadline keeps the entry until resolution or link death.
func (e *Endpoint) RegisterPendingUntil(id rpc.CallID, h *rpc.CallHandle, deadline time.Time) {
	e.pendingMu.Lock()
	e.pending[id] = &pendingEntry{handle: h, deadline: deadline}
	e.pendingMu.Unlock()
}

// PendingCalls returns the number of outstanding entries.
func (e *Endpoint) PendingCalls() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

func (e *Endpoint) pruneTick() {
	if e.closed.Load() {
		return
	}
	now := e.ts.Now()
	var expired []*pendingEntry
	e.pendingMu.Lock()
	for id, entry := range e.pending {
		if !entry.deadline.IsZero() && entry.deadline.Before(now) {
			delete(e.pending, id)
			expired = append(expired, entry)
			e.logger.Debug("pruning expired pending call", tag.CallID(uint64(id)))
		}
	}
	e.pendingMu.Unlock()
	for _, entry := range expired {
		// releasing the producer handle breaks the promise for any
		// consumer still holding the future
		entry.handle.Release()
	}
	e.ts.AfterFunc(e.opts.PendingGrace/2, e.pruneTick)
}

func (e *Endpoint) failAllPending() {
	e.pendingMu.Lock()
	entries := make([]*pendingEntry, 0, len(e.pending))
	for id, entry := range e.pending {
		entries = append(entries, entry)
		delete(e.pending, id)
		e.logger.Debug("link down, breaking pending call", tag.CallID(uint64(id)))
	}
	e.pendingMu.Unlock()
	for _, entry := range entries {
		entry.handle.Release()
	}
}
