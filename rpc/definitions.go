// Package rpc implements the call machinery of the RPC port layer: the
// call-storage pool, future/promise primitives, the per-interface function
// registry with its dispatch trampolines, the three call kinds, the typeless
// RPC port and its typed client/server/proxy façades, and return-value
// serialization including promises travelling across process boundaries.
package rpc

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.robomesh.io/rpcports/common/clock"
	"go.robomesh.io/rpcports/common/log"
)

type (
	// FutureStatus is the closed status set of a call-storage slot. A slot
	// starts PENDING and transitions exactly once to a terminal status.
	FutureStatus uint8

	// CallType tags the payload kind held by a call-storage slot.
	CallType uint8

	// CallID correlates a request with its response. Unique within the
	// sending process for the lifetime of the outstanding call.
	CallID uint64
)

const (
	StatusPending FutureStatus = iota
	StatusReady
	StatusNoConnection
	StatusTimeout
	StatusBrokenPromise
	StatusInvalidFuture
	StatusInternalError
	StatusInvalidCall
	StatusInvalidDataReceived
)

const (
	CallTypeUnspecified CallType = iota
	CallTypeMessage
	CallTypeRequest
	CallTypeResponse
)

// DefaultResponseTimeout applies to asynchronous calls that do not name a
// timeout of their own.
const DefaultResponseTimeout = 5 * time.Second

func (s FutureStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusReady:
		return "READY"
	case StatusNoConnection:
		return "NO_CONNECTION"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusBrokenPromise:
		return "BROKEN_PROMISE"
	case StatusInvalidFuture:
		return "INVALID_FUTURE"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusInvalidCall:
		return "INVALID_CALL"
	case StatusInvalidDataReceived:
		return "INVALID_DATA_RECEIVED"
	}
	return fmt.Sprintf("FutureStatus(%d)", uint8(s))
}

// IsTerminal reports whether s ends a slot's lifecycle.
func (s FutureStatus) IsTerminal() bool {
	return s != StatusPending
}

func (t CallType) String() string {
	switch t {
	case CallTypeMessage:
		return "MESSAGE"
	case CallTypeRequest:
		return "REQUEST"
	case CallTypeResponse:
		return "RESPONSE"
	}
	return "UNSPECIFIED"
}

// Error is the single error type surfaced by the call machinery. Every
// failure carries one FutureStatus from the closed set.
type Error struct {
	Status FutureStatus
	Reason string
}

// NewError builds an Error with a formatted reason.
func NewError(status FutureStatus, format string, args ...any) *Error {
	return &Error{Status: status, Reason: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return "rpc: " + e.Status.String()
	}
	return "rpc: " + e.Status.String() + ": " + e.Reason
}

// Is makes errors.Is match two Errors by status.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Status == e.Status
}

// StatusOf maps an error to its FutureStatus. nil maps to READY, errors
// outside the closed set map to INTERNAL_ERROR.
func StatusOf(err error) FutureStatus {
	if err == nil {
		return StatusReady
	}
	if e, ok := err.(*Error); ok {
		return e.Status
	}
	return StatusInternalError
}

var nextCallID atomic.Uint64

// NewCallID returns the next process-unique correlation identifier.
// Identifiers start at 1; zero is never issued.
func NewCallID() CallID {
	return CallID(nextCallID.Add(1))
}

var (
	defaultLogger     atomic.Pointer[log.Logger]
	defaultTimeSource atomic.Pointer[clock.TimeSource]
)

func init() {
	l := log.Logger(log.NewNoopLogger())
	defaultLogger.Store(&l)
	ts := clock.TimeSource(clock.NewRealTimeSource())
	defaultTimeSource.Store(&ts)
}

// SetLogger replaces the package-wide logger used where no per-port logger
// was supplied.
func SetLogger(l log.Logger) {
	if l != nil {
		defaultLogger.Store(&l)
	}
}

// Logger returns the package-wide logger.
func Logger() log.Logger {
	return *defaultLogger.Load()
}

// SetTimeSource replaces the time source used for future timeouts. Tests
// install a fake.
func SetTimeSource(ts clock.TimeSource) {
	if ts != nil {
		defaultTimeSource.Store(&ts)
	}
}

// TimeSource returns the time source used for future timeouts.
func TimeSource() clock.TimeSource {
	return *defaultTimeSource.Load()
}
