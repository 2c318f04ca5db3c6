package media

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeastLoadedPlacement(t *testing.T) {
	engine := NewLoopbackEngine(3)
	ctx := context.Background()

	var routers []Router
	for i := 0; i < 3; i++ {
		r, err := engine.CreateRouter(ctx, "room")
		require.NoError(t, err)
		routers = append(routers, r)
	}
	assert.Equal(t, []int{1, 1, 1}, engine.WorkerLoads())

	r4, err := engine.CreateRouter(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 1}, engine.WorkerLoads())

	// closing a router frees its worker
	require.NoError(t, routers[1].Close())
	assert.Equal(t, []int{2, 0, 1}, engine.WorkerLoads())

	r5, err := engine.CreateRouter(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 1}, engine.WorkerLoads())

	_ = r4
	_ = r5
}

func TestCreateRouterAfterClose(t *testing.T) {
	engine := NewLoopbackEngine(1)
	require.NoError(t, engine.Close())
	_, err := engine.CreateRouter(context.Background(), "room")
	assert.Error(t, err)
}

func TestWorkerCountMinimumOne(t *testing.T) {
	engine := NewLoopbackEngine(0)
	assert.Len(t, engine.WorkerLoads(), 1)
}

func TestRouterProducerCascadeAnnouncesConsumerCloses(t *testing.T) {
	engine := NewLoopbackEngine(1)
	r, err := engine.CreateRouter(context.Background(), "room")
	require.NoError(t, err)
	ctx := context.Background()

	var events []CloseEvent
	r.OnClose(func(ev CloseEvent) { events = append(events, ev) })

	send, _ := r.CreateTransport(ctx, DirectionSend, nil)
	recv, _ := r.CreateTransport(ctx, DirectionRecv, nil)
	prod, err := r.CreateProducer(ctx, send.ID, "audio", "microphone", nil)
	require.NoError(t, err)
	cons, err := r.CreateConsumer(ctx, recv.ID, prod.ID, nil)
	require.NoError(t, err)

	require.NoError(t, r.CloseProducer(ctx, prod.ID))
	require.Len(t, events, 1)
	assert.Equal(t, CloseEvent{Kind: KindConsumer, ID: cons.ID}, events[0])

	// consumer stats now fail since the consumer is gone
	_, err = r.ConsumerStats(ctx, cons.ID)
	assert.Error(t, err)
}

func TestRouterCloseTransportAnnouncesChildren(t *testing.T) {
	engine := NewLoopbackEngine(1)
	r, _ := engine.CreateRouter(context.Background(), "room")
	ctx := context.Background()

	var events []CloseEvent
	r.OnClose(func(ev CloseEvent) { events = append(events, ev) })

	send, _ := r.CreateTransport(ctx, DirectionSend, nil)
	r.CreateProducer(ctx, send.ID, "audio", "microphone", nil)
	r.CreateDataProducer(ctx, send.ID, nil, "chat", "json")

	require.NoError(t, r.CloseTransport(ctx, send.ID))
	assert.Len(t, events, 2)
}

func TestCanConsume(t *testing.T) {
	engine := NewLoopbackEngine(1)
	r, _ := engine.CreateRouter(context.Background(), "room")
	ctx := context.Background()

	send, _ := r.CreateTransport(ctx, DirectionSend, nil)
	prod, _ := r.CreateProducer(ctx, send.ID, "audio", "microphone", nil)

	assert.True(t, r.CanConsume(prod.ID, nil))
	assert.True(t, r.CanConsume(prod.ID, json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`)))
	assert.False(t, r.CanConsume(prod.ID, json.RawMessage(`{"codecs":[]}`)))
	assert.False(t, r.CanConsume(prod.ID, json.RawMessage(`garbage`)))
	assert.False(t, r.CanConsume("ghost", nil))
}

func TestRtpCapabilitiesWellFormed(t *testing.T) {
	engine := NewLoopbackEngine(1)
	r, _ := engine.CreateRouter(context.Background(), "room")

	var caps struct {
		Codecs []map[string]any `json:"codecs"`
	}
	require.NoError(t, json.Unmarshal(r.RtpCapabilities(), &caps))
	assert.NotEmpty(t, caps.Codecs)
}

func TestRegistryReusesAdapterPerRoom(t *testing.T) {
	engine := NewLoopbackEngine(2)
	reg := NewRegistry(engine, AdapterConfig{})
	ctx := context.Background()

	a1, err := reg.Adapter(ctx, "room-1")
	require.NoError(t, err)
	a2, err := reg.Adapter(ctx, "room-1")
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	b, err := reg.Adapter(ctx, "room-2")
	require.NoError(t, err)
	assert.NotSame(t, a1, b)

	peeked, ok := reg.Peek("room-1")
	require.True(t, ok)
	assert.Same(t, a1, peeked)
	_, ok = reg.Peek("room-3")
	assert.False(t, ok)

	require.NoError(t, reg.CloseRoom(ctx, "room-1"))
	_, ok = reg.Peek("room-1")
	assert.False(t, ok)

	require.NoError(t, reg.Close(ctx))
	_, err = reg.Adapter(ctx, "room-4")
	assert.Error(t, err)
}
