package rpc

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type arithmetic interface {
	Quadruple(d float64) int
	Describe(n int) (string, error)
	Ping()
	Fail() error
	Deferred() *Future[int]
	Reserve(name string) ticketPromise
}

// ticketPromise is a promise-derived return type carrying extra state.
type ticketPromise struct {
	Promise[int]
	Ticket uint32
}

var arithmeticType = MustInterfaceType[arithmetic]("rpctest.Arithmetic",
	arithmetic.Quadruple,
	arithmetic.Describe,
	arithmetic.Ping,
	arithmetic.Fail,
	arithmetic.Deferred,
	arithmetic.Reserve,
)

func TestFunctionIDsFollowDeclarationOrder(t *testing.T) {
	for i, expr := range []any{
		arithmetic.Quadruple, arithmetic.Describe, arithmetic.Ping,
		arithmetic.Fail, arithmetic.Deferred, arithmetic.Reserve,
	} {
		m, err := arithmeticType.MethodOf(expr)
		require.NoError(t, err)
		assert.Equal(t, uint8(i), m.ID())
	}
}

func TestFunctionIDStability(t *testing.T) {
	m1, err := arithmeticType.MethodOf(arithmetic.Quadruple)
	require.NoError(t, err)
	m2, err := arithmeticType.MethodOf(arithmetic.Quadruple)
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, "Quadruple", m1.Name())
}

func TestReturnShapeDetection(t *testing.T) {
	cases := []struct {
		expr any
		kind retKind
	}{
		{arithmetic.Quadruple, retValue},
		{arithmetic.Describe, retValueError},
		{arithmetic.Ping, retVoid},
		{arithmetic.Fail, retError},
		{arithmetic.Deferred, retNativeFuture},
		{arithmetic.Reserve, retPromise},
	}
	for _, c := range cases {
		m, err := arithmeticType.MethodOf(c.expr)
		require.NoError(t, err)
		assert.Equal(t, c.kind, m.kind, m.Name())
	}

	deferred, _ := arithmeticType.MethodOf(arithmetic.Deferred)
	assert.Equal(t, "int", deferred.resultType.String())
	reserve, _ := arithmeticType.MethodOf(arithmetic.Reserve)
	assert.Equal(t, "int", reserve.resultType.String())
}

func TestUnregisteredMethodFails(t *testing.T) {
	_, err := arithmeticType.MethodOf(func(a arithmetic, x int) {})
	require.Error(t, err)
	assert.Equal(t, StatusInvalidCall, StatusOf(err))
	_, err = arithmeticType.MethodOf(42)
	require.Error(t, err)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	_, err := NewInterfaceType[arithmetic]("rpctest.Arithmetic")
	require.ErrorContains(t, err, "already registered")
}

func TestMethodLimitEnforced(t *testing.T) {
	type tiny interface{ Ping() }
	methods := make([]any, maxMethods+1)
	for i := range methods {
		methods[i] = func(x tiny) {}
	}
	_, err := NewInterfaceType[tiny]("rpctest.TooManyMethods", methods...)
	require.ErrorContains(t, err, "limit")
}

func TestBadMethodExpressionsRejected(t *testing.T) {
	type other interface{ Ping() }
	_, err := NewInterfaceType[other]("rpctest.WrongReceiver", arithmetic.Ping)
	require.ErrorContains(t, err, "receiver")

	_, err = NewInterfaceType[other]("rpctest.NotAFunc", "nope")
	require.ErrorContains(t, err, "method expression")

	_, err = NewInterfaceType[other]("rpctest.TooManyReturns",
		func(o other) (int, string, error) { return 0, "", nil })
	require.Error(t, err)
}

func TestFutureOrPromiseWithErrorRejected(t *testing.T) {
	type other interface{ Ping() }
	// value and pointer future returns must both be caught
	_, err := NewInterfaceType[other]("rpctest.FutureValueWithError",
		func(o other) (Future[int], error) { return Future[int]{}, nil })
	require.ErrorContains(t, err, "cannot be combined")

	_, err = NewInterfaceType[other]("rpctest.FuturePtrWithError",
		func(o other) (*Future[int], error) { return nil, nil })
	require.ErrorContains(t, err, "cannot be combined")

	_, err = NewInterfaceType[other]("rpctest.PromiseWithError",
		func(o other) (Promise[int], error) { return Promise[int]{}, nil })
	require.ErrorContains(t, err, "cannot be combined")
}

func TestRegistryLookups(t *testing.T) {
	assert.Same(t, arithmeticType, LookupInterfaceType("rpctest.Arithmetic"))
	assert.Same(t, arithmeticType, LookupInterfaceTypeByTag(arithmeticType.Tag()))
	assert.Nil(t, LookupInterfaceType("rpctest.Unknown"))
	assert.Contains(t, RegisteredInterfaceNames(), "rpctest.Arithmetic")
}

func TestDataTypeIsRPCShaped(t *testing.T) {
	dt := arithmeticType.DataType()
	assert.Equal(t, "rpctest.Arithmetic", dt.Name)
	assert.Zero(t, dt.Size)
}

func TestInvokeMapsFailures(t *testing.T) {
	m, err := arithmeticType.MethodOf(arithmetic.Quadruple)
	require.NoError(t, err)

	impl := &arithmeticImpl{}
	rets, status := m.invoke(impl, []any{4.0})
	require.Equal(t, StatusReady, status)
	assert.Equal(t, 16, rets[0].Interface())

	// wrong arity
	_, status = m.invoke(impl, nil)
	assert.Equal(t, StatusInvalidDataReceived, status)

	// handler raising a call exception
	failing, err := arithmeticType.MethodOf(arithmetic.Fail)
	require.NoError(t, err)
	_, status = failing.invoke(impl, nil)
	assert.Equal(t, StatusInvalidCall, status)
}

type arithmeticImpl struct {
	pings int
}

func (a *arithmeticImpl) Quadruple(d float64) int { return int(4 * d) }

func (a *arithmeticImpl) Describe(n int) (string, error) {
	if n < 0 {
		return "", NewError(StatusInvalidCall, "negative")
	}
	return fmt.Sprintf("n=%d", n), nil
}

func (a *arithmeticImpl) Ping() { a.pings++ }

func (a *arithmeticImpl) Fail() error {
	return NewError(StatusInvalidCall, "always fails")
}

func (a *arithmeticImpl) Deferred() *Future[int] {
	p := NewPromise[int]()
	fut, _ := p.GetFuture()
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.SetValue(1)
	}()
	return fut
}

func (a *arithmeticImpl) Reserve(name string) ticketPromise {
	return ticketPromise{Promise: NewPromise[int](), Ticket: 7}
}
