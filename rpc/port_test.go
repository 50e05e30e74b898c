package rpc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.robomesh.io/rpcports/element"
)

type basicOps interface {
	F(d float64) int
	Test()
	S(s string)
	Divide(a, b float64) (float64, error)
	Countdown(from int) Promise[int]
}

type basicServer struct {
	mu       sync.Mutex
	tests    int
	lastS    string
	promises []Promise[int]
}

func (b *basicServer) F(d float64) int { return int(4 * d) }

func (b *basicServer) Test() {
	b.mu.Lock()
	b.tests++
	b.mu.Unlock()
}

func (b *basicServer) S(s string) {
	b.mu.Lock()
	b.lastS = s
	b.mu.Unlock()
}

func (b *basicServer) Divide(a, c float64) (float64, error) {
	if c == 0 {
		return 0, NewError(StatusInvalidCall, "division by zero")
	}
	return a / c, nil
}

func (b *basicServer) Countdown(from int) Promise[int] {
	p := NewPromise[int]()
	b.mu.Lock()
	b.promises = append(b.promises, p)
	b.mu.Unlock()
	return p
}

func (b *basicServer) testCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tests
}

func (b *basicServer) lastString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastS
}

var basicOpsType = MustInterfaceType[basicOps]("rpctest.BasicOps",
	basicOps.F,
	basicOps.Test,
	basicOps.S,
	basicOps.Divide,
	basicOps.Countdown,
)

func newBasicPair(t *testing.T) (*ClientPort[basicOps], *ServerPort[basicOps], *basicServer) {
	t.Helper()
	root := element.NewElement(nil, t.Name(), 0)
	srv := &basicServer{}
	server := NewServerPort[basicOps](basicOpsType, srv, PortOptions{Name: "server", Parent: root})
	client := NewClientPort[basicOps](basicOpsType, PortOptions{Name: "client", Parent: root})
	root.Init()
	require.NoError(t, client.ConnectTo(server.Port()))
	return client, server, srv
}

func TestLocalBasicOperation(t *testing.T) {
	client, _, srv := newBasicPair(t)

	v, err := CallSync[int](client, 2*time.Second, basicOps.F, 4.0)
	require.NoError(t, err)
	assert.Equal(t, 16, v)

	Call(client, basicOps.Test)
	assert.Equal(t, 1, srv.testCount())

	Call(client, basicOps.S, "a string")
	assert.Equal(t, "a string", srv.lastString())
}

func TestLocalCallSyncPropagatesException(t *testing.T) {
	client, _, _ := newBasicPair(t)
	_, err := CallSync[float64](client, time.Second, basicOps.Divide, 1.0, 0.0)
	require.Error(t, err)
	assert.Equal(t, StatusInvalidCall, StatusOf(err))
}

func TestNoConnection(t *testing.T) {
	root := element.NewElement(nil, t.Name(), 0)
	client := NewClientPort[basicOps](basicOpsType, PortOptions{Name: "client", Parent: root})
	root.Init()

	_, err := CallSync[int](client, 200*time.Millisecond, basicOps.F, 1.0)
	require.Error(t, err)
	assert.Equal(t, StatusNoConnection, StatusOf(err))

	// messages without a reachable server are silently dropped
	Call(client, basicOps.Test)

	assert.Zero(t, client.GetServerHandle())
}

func TestLocalCallAsync(t *testing.T) {
	client, _, _ := newBasicPair(t)
	h := &recordingHandler[int]{}
	CallAsync[int](client, h, basicOps.F, 2.5)
	assert.Equal(t, int32(1), h.responses.Load())
	assert.Equal(t, 10, h.lastValue.Load())
	assert.Zero(t, h.exceptions.Load())
}

func TestLocalFutureCall(t *testing.T) {
	client, _, _ := newBasicPair(t)
	fut := FutureCall[int](client, basicOps.F, 4.0)
	v, err := fut.Get(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 16, v)
	_, err = fut.Get(time.Second)
	assert.Equal(t, StatusInvalidFuture, StatusOf(err))
}

func TestLocalPromiseCall(t *testing.T) {
	client, _, srv := newBasicPair(t)
	fut := PromiseCall[int](client, basicOps.Countdown, 3)
	assert.False(t, fut.Ready())

	srv.mu.Lock()
	p := srv.promises[0]
	srv.mu.Unlock()
	p.SetValue(3)

	v, err := fut.Get(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestLocalPromiseDropBreaksCall(t *testing.T) {
	client, _, srv := newBasicPair(t)
	fut := PromiseCall[int](client, basicOps.Countdown, 1)

	srv.mu.Lock()
	p := srv.promises[0]
	srv.mu.Unlock()
	p.Release()

	_, err := fut.Get(time.Second)
	assert.Equal(t, StatusBrokenPromise, StatusOf(err))
}

func TestGetServerHandleTracksFailover(t *testing.T) {
	root := element.NewElement(nil, t.Name(), 0)
	srvA := NewServerPort[basicOps](basicOpsType, &basicServer{}, PortOptions{Name: "server-a", Parent: root})
	srvB := NewServerPort[basicOps](basicOpsType, &basicServer{}, PortOptions{Name: "server-b", Parent: root})
	client := NewClientPort[basicOps](basicOpsType, PortOptions{Name: "client", Parent: root})
	root.Init()

	require.NoError(t, client.ConnectTo(srvA.Port()))
	assert.Equal(t, srvA.Handle(), client.GetServerHandle())

	// connecting to a second server prunes the older edge
	require.NoError(t, client.ConnectTo(srvB.Port()))
	assert.Equal(t, srvB.Handle(), client.GetServerHandle())
	assert.Len(t, client.Port().Port().OutgoingConnections(), 1)
}

func TestOneServerInvariantUnderChurn(t *testing.T) {
	root := element.NewElement(nil, t.Name(), 0)
	client := NewClientPort[basicOps](basicOpsType, PortOptions{Name: "client", Parent: root})
	servers := make([]*ServerPort[basicOps], 4)
	for i := range servers {
		servers[i] = NewServerPort[basicOps](basicOpsType, &basicServer{},
			PortOptions{Name: "server", Parent: root})
	}
	root.Init()

	for _, s := range servers {
		require.NoError(t, client.ConnectTo(s.Port()))
		assert.LessOrEqual(t, len(client.Port().Port().OutgoingConnections()), 1)
	}
	client.Port().DisconnectAll()
	assert.Zero(t, client.GetServerHandle())
}

func TestProxyRouting(t *testing.T) {
	root := element.NewElement(nil, t.Name(), 0)
	srv := &basicServer{}
	server := NewServerPort[basicOps](basicOpsType, srv, PortOptions{Name: "server", Parent: root})
	proxy := NewProxyPort[basicOps](basicOpsType, true, PortOptions{Name: "proxy", Parent: root})
	client := NewClientPort[basicOps](basicOpsType, PortOptions{Name: "client", Parent: root})
	root.Init()

	require.NoError(t, proxy.ConnectTo(server.Port()))
	require.NoError(t, client.ConnectTo(proxy.Port()))

	v, err := CallSync[int](client, time.Second, basicOps.F, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 8, v)
	assert.Equal(t, server.Handle(), client.GetServerHandle())
}

func TestWrapValidation(t *testing.T) {
	root := element.NewElement(nil, t.Name(), 0)
	server := NewServerPort[basicOps](basicOpsType, &basicServer{}, PortOptions{Name: "server", Parent: root})
	client := NewClientPort[basicOps](basicOpsType, PortOptions{Name: "client", Parent: root})
	root.Init()

	_, err := WrapClientPort[basicOps](basicOpsType, server.Port().Port(), false)
	require.Error(t, err)
	_, err = WrapClientPort[basicOps](basicOpsType, server.Port().Port(), true)
	require.NoError(t, err)

	wrapped, err := WrapClientPort[basicOps](basicOpsType, client.Port().Port(), false)
	require.NoError(t, err)
	assert.Same(t, client.Port(), wrapped.Port())

	_, err = WrapServerPort[basicOps](basicOpsType, client.Port().Port())
	require.Error(t, err)
	s, err := WrapServerPort[basicOps](basicOpsType, server.Port().Port())
	require.NoError(t, err)
	assert.Same(t, server.Port(), s.Port())
}

func TestDeletedFlagSkipsPortCreation(t *testing.T) {
	root := element.NewElement(nil, t.Name(), 0)
	server := NewServerPort[basicOps](basicOpsType, &basicServer{},
		PortOptions{Name: "server", Parent: root, Flags: element.FlagDeleted})
	assert.Nil(t, server.Port().Port())
	assert.Zero(t, server.Handle())
}

func TestDeletedServerUnreachable(t *testing.T) {
	client, server, _ := newBasicPair(t)
	require.NoError(t, server.ManagedDelete())

	_, err := CallSync[int](client, 100*time.Millisecond, basicOps.F, 1.0)
	assert.Equal(t, StatusNoConnection, StatusOf(err))
}
