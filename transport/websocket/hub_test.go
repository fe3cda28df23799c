package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw []byte) received {
	t.Helper()
	var msg received
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func drain(sub *Subscriber) [][]byte {
	var out [][]byte
	for {
		select {
		case m, ok := <-sub.send:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	require.NotNil(t, hub)
	assert.NotNil(t, hub.sessions)
	assert.Equal(t, DefaultSendBuffer, hub.sendBuffer)

	hub = NewHub(nil, WithSendBuffer(4))
	assert.Equal(t, 4, cap(hub.NewSubscriber("x").send))
}

func TestHubSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewSubscriber("A")
	b := hub.NewSubscriber("B")

	hub.Subscribe("g1", a)
	hub.Subscribe("g1", b)
	hub.Subscribe("g2", a)
	assert.Equal(t, 2, hub.SubscriberCount("g1"))
	assert.Equal(t, 1, hub.SubscriberCount("g2"))
	assert.Equal(t, 2, hub.SessionCount())

	assert.True(t, hub.Unsubscribe("g2", "A"))
	assert.False(t, hub.Unsubscribe("g2", "A"))
	assert.Equal(t, 0, hub.SubscriberCount("g2"))
	assert.Equal(t, 1, hub.SessionCount(), "empty topics are removed")
	assert.False(t, a.Closed(), "unsubscribe leaves the queue open")
}

func TestHubPublish(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewSubscriber("A")
	b := hub.NewSubscriber("B")
	other := hub.NewSubscriber("O")
	hub.Subscribe("g1", a)
	hub.Subscribe("g1", b)
	hub.Subscribe("g2", other)

	n := hub.Publish("g1", "move", json.RawMessage(`"e2e4"`))
	assert.Equal(t, 2, n)

	for _, sub := range []*Subscriber{a, b} {
		msgs := drain(sub)
		require.Len(t, msgs, 1)
		msg := decode(t, msgs[0])
		assert.Equal(t, "move", msg.Event)
		assert.Equal(t, "g1", msg.SessionID)
		assert.JSONEq(t, `"e2e4"`, string(msg.Data))
	}
	assert.Empty(t, drain(other))
}

func TestHubPublishNoSubscribers(t *testing.T) {
	hub := NewHub(nil)
	assert.Equal(t, 0, hub.Publish("nobody", "move", "e2e4"))
	assert.Equal(t, 0, hub.SessionCount())
}

func TestHubPublishUnmarshalable(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewSubscriber("A")
	hub.Subscribe("g1", a)

	assert.Equal(t, 0, hub.Publish("g1", "move", make(chan int)))
	assert.Empty(t, drain(a))
}

func TestHubSlowSubscriberDropped(t *testing.T) {
	hub := NewHub(nil)
	slow := NewSubscriber("slow", 1)
	fast := NewSubscriber("fast", 16)
	hub.Subscribe("g1", slow)
	hub.Subscribe("g1", fast)

	assert.Equal(t, 2, hub.Publish("g1", "move", 1))
	assert.Equal(t, 1, hub.Publish("g1", "move", 2))
	assert.Equal(t, 1, hub.Publish("g1", "move", 3))

	assert.True(t, slow.Closed())
	assert.Equal(t, 1, hub.SubscriberCount("g1"))
	assert.Len(t, drain(fast), 3)
	assert.Len(t, drain(slow), 1)
}

func TestHubSendTo(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewSubscriber("A")
	b := hub.NewSubscriber("B")
	hub.Subscribe("g1", a)
	hub.Subscribe("g1", b)

	assert.True(t, hub.SendTo(a, "g1", "error", map[string]string{"code": "x"}))
	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))

	a.Close()
	assert.False(t, hub.SendTo(a, "g1", "error", nil))
}

func TestSubscriberCloseIdempotent(t *testing.T) {
	sub := NewSubscriber("A", 0)
	assert.Equal(t, DefaultSendBuffer, cap(sub.send))
	sub.Close()
	sub.Close()
	assert.True(t, sub.Closed())
	assert.False(t, sub.enqueue([]byte("x")))
}

func TestHubConcurrentPublishAndUnsubscribe(t *testing.T) {
	hub := NewHub(nil, WithSendBuffer(4))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			sub := hub.NewSubscriber(id)
			for j := 0; j < 50; j++ {
				hub.Subscribe("g1", sub)
				hub.Publish("g1", "move", j)
				hub.Unsubscribe("g1", id)
			}
			sub.Close()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, hub.SubscriberCount("g1"))
}
