package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryBusFansOut(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Envelope, 2)
	for i := 0; i < 2; i++ {
		go bus.Subscribe(ctx, func(env Envelope) { got <- env })
	}
	require.Eventually(t, func() bool { return bus.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	env := Envelope{Node: "n1", Room: "conversation:C1", Data: json.RawMessage(`{"type":"new_message"}`)}
	require.NoError(t, bus.Publish(ctx, env))
	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			assert.Equal(t, env.Room, e.Room)
			assert.JSONEq(t, `{"type":"new_message"}`, string(e.Data))
		case <-time.After(time.Second):
			t.Fatal("envelope not delivered")
		}
	}
}

func TestNewRedisRelayFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisRelay(ctx, "127.0.0.1:1", "", zap.NewNop())
	assert.Error(t, err)
}

func TestNewRedisRelayFromClientDefaultsChannel(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	r := NewRedisRelayFromClient(client, "", zap.NewNop())
	defer r.Close()
	assert.Equal(t, "gateway:broadcast", r.channel)
}

func TestEnvelopeWireFormat(t *testing.T) {
	raw, err := json.Marshal(Envelope{Node: "n1", Room: "employees", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"node":"n1","room":"employees","data":{}}`, string(raw))
}
