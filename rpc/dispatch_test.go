package rpc

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.robomesh.io/rpcports/common/clock"
	"go.robomesh.io/rpcports/element"
	"go.robomesh.io/rpcports/serialization"
)

type gatedOps interface {
	Stuck() *Future[int]
}

type gatedServer struct {
	mu       sync.Mutex
	promises []Promise[int]
}

func (g *gatedServer) Stuck() *Future[int] {
	p := NewPromise[int]()
	fut, _ := p.GetFuture()
	g.mu.Lock()
	g.promises = append(g.promises, p)
	g.mu.Unlock()
	return fut
}

var gatedOpsType = MustInterfaceType[gatedOps]("rpctest.GatedOps", gatedOps.Stuck)

type captureSender struct {
	handles []*CallHandle
}

func (c *captureSender) SendResponse(h *CallHandle) {
	c.handles = append(c.handles, h)
}

// A response gated on an unfulfilled server-side future must unblock with
// TIMEOUT once the caller's response timeout elapses; otherwise the gate
// would hold the transport's send queue forever.
func TestGatedResponseBoundedByRequestTimeout(t *testing.T) {
	ts := clock.NewEventTimeSource()
	SetTimeSource(ts)
	t.Cleanup(func() { SetTimeSource(clock.NewRealTimeSource()) })

	root := element.NewElement(nil, t.Name(), 0)
	srv := &gatedServer{}
	server := NewServerPort[gatedOps](gatedOpsType, srv, PortOptions{Name: "server", Parent: root})
	root.Init()

	callID := NewCallID()
	body := serialization.NewOutputStream()
	body.WriteUint64(uint64(callID))
	body.WriteDuration(50 * time.Millisecond)
	require.NoError(t, body.Err())

	sender := &captureSender{}
	gatedOpsType.DeserializeAndExecuteRequest(
		serialization.NewInputStream(body.Bytes()), server.Port(), 0, sender)

	require.Len(t, sender.handles, 1)
	h := sender.handles[0]
	slot := h.Slot()
	assert.False(t, slot.ReadyForSending())

	ts.Advance(60 * time.Millisecond)
	assert.True(t, slot.ReadyForSending())

	out := serialization.NewOutputStream()
	slot.Serialize(out)
	resp := serialization.NewInputStream(out.Bytes())
	assert.Equal(t, gatedOpsType.Tag(), resp.ReadUint32())
	assert.Equal(t, uint8(0), resp.ReadUint8())
	assert.Equal(t, uint64(callID), resp.ReadUint64())
	assert.False(t, resp.ReadBool())
	assert.Equal(t, uint8(StatusTimeout), resp.ReadUint8())
	require.NoError(t, resp.Err())

	h.Release()
	srv.mu.Lock()
	srv.promises[0].Release()
	srv.mu.Unlock()
}

// A fulfilled inner future must win over the timeout timer left behind by
// the request.
func TestGatedResponseFulfilledBeforeTimeout(t *testing.T) {
	ts := clock.NewEventTimeSource()
	SetTimeSource(ts)
	t.Cleanup(func() { SetTimeSource(clock.NewRealTimeSource()) })

	root := element.NewElement(nil, t.Name(), 0)
	srv := &gatedServer{}
	server := NewServerPort[gatedOps](gatedOpsType, srv, PortOptions{Name: "server", Parent: root})
	root.Init()

	callID := NewCallID()
	body := serialization.NewOutputStream()
	body.WriteUint64(uint64(callID))
	body.WriteDuration(time.Second)
	require.NoError(t, body.Err())

	sender := &captureSender{}
	gatedOpsType.DeserializeAndExecuteRequest(
		serialization.NewInputStream(body.Bytes()), server.Port(), 0, sender)
	require.Len(t, sender.handles, 1)
	h := sender.handles[0]
	slot := h.Slot()

	srv.mu.Lock()
	p := srv.promises[0]
	srv.mu.Unlock()
	p.SetValue(5)
	require.True(t, slot.ReadyForSending())

	// the stale timer fires into an already terminal slot and is ignored
	ts.Advance(2 * time.Second)

	out := serialization.NewOutputStream()
	slot.Serialize(out)
	resp := serialization.NewInputStream(out.Bytes())
	resp.ReadUint32()
	resp.ReadUint8()
	assert.Equal(t, uint64(callID), resp.ReadUint64())
	assert.False(t, resp.ReadBool())
	assert.Equal(t, uint8(StatusReady), resp.ReadUint8())
	assert.Equal(t, 5, resp.ReadValue(reflect.TypeOf(0)))
	require.NoError(t, resp.Err())

	h.Release()
	p.Release()
}
