package rpc

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/stacks/arraystack"

	"go.robomesh.io/rpcports/common/log/tag"
	"go.robomesh.io/rpcports/element"
	"go.robomesh.io/rpcports/serialization"
)

type (
	// call is the payload contract every call kind implements. Serialize
	// emits the common header (type tag, function index) followed by the
	// kind-specific body; the transport prefixes the call-type byte.
	call interface {
		Serialize(out *serialization.OutputStream)
	}

	// CallStorage is a recyclable slot holding one call payload plus its
	// synchronization state. Slots are handed out by the pool and returned
	// when the last handle is released.
	CallStorage struct {
		pool *Pool

		mu      sync.Mutex
		readyCh chan struct{}
		waiting bool

		status atomic.Uint32

		// handle counting; total decides recycling, normal decides the
		// broken-promise rule
		refTotal  atomic.Int32
		refNormal atomic.Int32

		// gate, when set, defers readiness for sending to another slot's
		// status (future-returning server methods)
		gate *CallStorage

		handler        responseSink
		callID         CallID
		callType       CallType
		payload        call
		result         any
		resultType     reflect.Type
		timeout        time.Duration
		futureObtained bool
		sourcePort     element.Handle
	}

	// responseSink is the untyped view of a ResponseHandler attached to a
	// slot. Invoked exactly once, outside the slot mutex.
	responseSink interface {
		accept(status FutureStatus, value any)
	}

	// releasable payloads hold slot references of their own; they are
	// dropped when the carrying slot recycles.
	releasable interface {
		releaseRefs()
	}

	handleFlavor uint8

	// CallHandle is an owned reference to a call-storage slot. It knows
	// whether it represents the producer (normal) or the consumer (future)
	// side, so the correct release semantics run exactly once.
	CallHandle struct {
		slot     *CallStorage
		flavor   handleFlavor
		released atomic.Bool
	}

	// Pool hands out call-storage slots. It grows on miss and keeps its
	// high-water population; acquisition never blocks producers.
	Pool struct {
		mu         sync.Mutex
		free       *arraystack.Stack
		population int
	}

	// PoolStats is a snapshot of pool occupancy.
	PoolStats struct {
		Population int
		Free       int
	}
)

const (
	flavorNormal handleFlavor = iota
	flavorFuture
)

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{free: arraystack.New()}
}

var globalPool = NewPool()

// Acquire returns a producer handle on a fresh slot from the process-wide
// pool.
func Acquire() *CallHandle {
	return globalPool.Acquire()
}

// Acquire returns a producer handle on a fresh slot: status PENDING, call
// type UNSPECIFIED, empty payload.
func (p *Pool) Acquire() *CallHandle {
	p.mu.Lock()
	var slot *CallStorage
	if v, ok := p.free.Pop(); ok {
		slot = v.(*CallStorage)
	} else {
		slot = &CallStorage{pool: p}
		p.population++
	}
	p.mu.Unlock()

	slot.reset()
	return &CallHandle{slot: slot, flavor: flavorNormal}
}

// Stats returns the current population and free count.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Population: p.population, Free: p.free.Size()}
}

func (p *Pool) recycle(s *CallStorage) {
	// payload teardown runs exactly once, on the slot's last release
	if r, ok := s.payload.(releasable); ok {
		r.releaseRefs()
	}
	s.payload = nil
	s.result = nil
	s.handler = nil
	s.gate = nil
	p.mu.Lock()
	p.free.Push(s)
	p.mu.Unlock()
}

func (s *CallStorage) reset() {
	s.mu.Lock()
	s.readyCh = make(chan struct{})
	s.waiting = false
	s.mu.Unlock()
	s.status.Store(uint32(StatusPending))
	s.refTotal.Store(1)
	s.refNormal.Store(1)
	s.gate = nil
	s.handler = nil
	s.callID = 0
	s.callType = CallTypeUnspecified
	s.payload = nil
	s.result = nil
	s.resultType = nil
	s.timeout = 0
	s.futureObtained = false
	s.sourcePort = 0
}

// Status returns the slot status with acquire semantics.
func (s *CallStorage) Status() FutureStatus {
	return FutureStatus(s.status.Load())
}

// CallID returns the correlation identifier of the stored call.
func (s *CallStorage) CallID() CallID { return s.callID }

// SetCallID assigns the correlation identifier.
func (s *CallStorage) SetCallID(id CallID) { s.callID = id }

// CallType returns the payload kind tag.
func (s *CallStorage) CallType() CallType { return s.callType }

// ResponseTimeout returns the response timeout; zero means the call does
// not expect a response.
func (s *CallStorage) ResponseTimeout() time.Duration { return s.timeout }

// ExpectsResponse reports whether a transport must track this call in its
// pending table.
func (s *CallStorage) ExpectsResponse() bool { return s.timeout > 0 }

// SourcePort returns the handle of the port the call originated from.
func (s *CallStorage) SourcePort() element.Handle { return s.sourcePort }

// Call returns the stored payload, nil for an empty slot.
func (s *CallStorage) Call() call { return s.payload }

// Serialize writes the stored payload. Must not be called on empty slots.
func (s *CallStorage) Serialize(out *serialization.OutputStream) {
	s.payload.Serialize(out)
}

func (s *CallStorage) setCall(c call, t CallType) {
	s.payload = c
	s.callType = t
}

// SetReadyGate defers this slot's ready-for-sending indication to the
// status of gate.
func (s *CallStorage) SetReadyGate(gate *CallStorage) {
	s.gate = gate
}

// ReadyForSending reports whether a transport may take this call off its
// send queue. Ungated slots are always ready; gated slots wait for the
// gate to leave PENDING.
func (s *CallStorage) ReadyForSending() bool {
	return s.gate == nil || s.gate.Status() != StatusPending
}

// ReadyGateCh returns a channel closed when the slot becomes ready for
// sending, nil when it already is.
func (s *CallStorage) ReadyGateCh() <-chan struct{} {
	if s.gate == nil {
		return nil
	}
	s.gate.mu.Lock()
	defer s.gate.mu.Unlock()
	if s.gate.Status() != StatusPending {
		return nil
	}
	return s.gate.readyCh
}

func (s *CallStorage) setHandler(h responseSink) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *CallStorage) clearHandler() {
	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
}

// complete performs the one-shot PENDING → terminal transition. The value
// write and the status write are linearized under the slot mutex; the
// attached response handler runs after the mutex is dropped. Returns false
// when the slot already reached a terminal status.
func (s *CallStorage) complete(status FutureStatus, value any) bool {
	s.mu.Lock()
	if s.Status() != StatusPending {
		s.mu.Unlock()
		return false
	}
	s.result = value
	s.status.Store(uint32(status))
	close(s.readyCh)
	handler := s.handler
	s.handler = nil
	s.mu.Unlock()

	if handler != nil {
		handler.accept(status, value)
	}
	return true
}

// SetValue publishes a READY result. Warns and ignores when the slot
// already reached a terminal status.
func (s *CallStorage) SetValue(v any) {
	if !s.complete(StatusReady, v) {
		Logger().Warn("call already completed, ignoring value",
			tag.CallID(uint64(s.callID)), tag.FutureStatus(s.Status().String()))
	}
}

// SetException publishes a terminal failure status. PENDING and READY are
// not failures; passing them is a programmer error. A slot that already
// reached a terminal status logs and ignores the call.
func (s *CallStorage) SetException(status FutureStatus) {
	if status == StatusPending || status == StatusReady {
		panic("rpc: SetException called with non-failure status " + status.String())
	}
	if !s.complete(status, nil) {
		Logger().Warn("call already completed, ignoring exception",
			tag.CallID(uint64(s.callID)), tag.FutureStatus(status.String()))
	}
}

// obtainFutureHandle adds a consumer reference to the slot. Terminal
// status is left untouched, so a future obtained after completion observes
// the result.
func (s *CallStorage) obtainFutureHandle() *CallHandle {
	s.refTotal.Add(1)
	return &CallHandle{slot: s, flavor: flavorFuture}
}

// Slot returns the referenced storage.
func (h *CallHandle) Slot() *CallStorage { return h.slot }

// IsFuture reports whether this is the consumer-side flavor.
func (h *CallHandle) IsFuture() bool { return h.flavor == flavorFuture }

func (s *CallStorage) hasHandler() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// Release gives up this reference. Releasing the last producer reference
// while the slot is still PENDING and a consumer is waiting, either through
// a future handle or an attached response handler, breaks the promise. The
// last release of either flavor recycles the slot. A second release of the
// same handle is a no-op.
func (h *CallHandle) Release() {
	if h == nil || h.released.Swap(true) {
		return
	}
	s := h.slot
	if h.flavor == flavorNormal {
		if s.refNormal.Add(-1) == 0 && s.Status() == StatusPending &&
			(s.refTotal.Load() > 1 || s.hasHandler()) {
			s.SetException(StatusBrokenPromise)
		}
	}
	if s.refTotal.Add(-1) == 0 {
		s.pool.recycle(s)
	}
}
