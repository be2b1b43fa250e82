package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinlink/logger"
)

func recvEvent(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestHubDeliversToUserTopicOnly(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)
	alice, closeAlice := hub.Subscribe("alice")
	defer closeAlice()
	bob, closeBob := hub.Subscribe("bob")
	defer closeBob()

	require.NoError(t, hub.Publish(context.Background(), Event{Type: EventProgress, UserID: "alice", Data: Progress{Percent: 50}}))

	got := recvEvent(t, alice.C, time.Second)
	assert.Equal(t, EventProgress, got.Type)
	assert.Equal(t, 50, got.Data.(Progress).Percent)

	select {
	case ev := <-bob.C:
		t.Fatalf("bob should not receive alice's event, got %v", ev)
	default:
	}
}

func TestHubPreservesOrder(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)
	sub, unsubscribe := hub.Subscribe("u1")
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		hub.Deliver(Event{Type: EventActivity, UserID: "u1", Data: i})
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, recvEvent(t, sub.C, time.Second).Data)
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)
	sub, unsubscribe := hub.Subscribe("u1")
	defer unsubscribe()

	for i := 0; i < defaultBuffer+10; i++ {
		hub.Deliver(Event{Type: EventActivity, UserID: "u1", Data: i})
	}
	assert.Len(t, sub.C, defaultBuffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)
	sub, unsubscribe := hub.Subscribe("u1")
	require.Equal(t, 1, hub.Subscribers("u1"))

	unsubscribe()
	unsubscribe()

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers("u1"))

	// publishing after unsubscribe must not panic on the closed channel
	hub.Deliver(Event{Type: EventRewards, UserID: "u1"})
}

func TestRedisDispatchDecodesEnvelope(t *testing.T) {
	hub := NewHub(logger.NewNop(), nil)
	sub, unsubscribe := hub.Subscribe("u42")
	defer unsubscribe()

	bus := &RedisBus{log: logger.NewNop(), prefix: "tl"}
	raw, err := json.Marshal(Event{Type: EventAchievement, UserID: "u42", Data: map[string]any{"type": "first-connection"}})
	require.NoError(t, err)

	assert.Equal(t, "tl:user:u42", bus.channel(Event{UserID: "u42"}))

	bus.dispatch(hub, &goredis.Message{Channel: "tl:user:u42", Payload: string(raw)})
	got := recvEvent(t, sub.C, time.Second)
	assert.Equal(t, EventAchievement, got.Type)
	assert.Equal(t, "first-connection", got.Data.(map[string]any)["type"])

	// malformed payloads are skipped
	bus.dispatch(hub, &goredis.Message{Channel: "tl:user:u42", Payload: "{"})
	assert.Len(t, sub.C, 0)
}

func TestRedisBusUninitialized(t *testing.T) {
	var bus *RedisBus
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{}), ErrBusNotInitialized)
	assert.NoError(t, bus.Close())
}
