package api

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
	"github.com/perfwatch/perfwatch/internal/monitoring/store"
)

// recv drains one queued frame without blocking; ok is false when the queue
// is empty.
func recv(c *wsClient) (map[string]any, bool) {
	select {
	case data := <-c.send:
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, false
		}
		return msg, true
	default:
		return nil, false
	}
}

func newTestHub() *Hub {
	return NewHub(store.New(100, nil), nil)
}

func TestBroadcastPointHonorsSubscriptions(t *testing.T) {
	h := newTestHub()
	filtered := h.Register(nil)
	unfiltered := h.Register(nil)
	h.Subscribe(filtered.id, "cpu_usage")

	h.BroadcastPoint(model.NewPoint("memory_usage", 60, nil))

	_, got := recv(filtered)
	assert.False(t, got, "client subscribed to cpu_usage must not see memory_usage")
	msg, got := recv(unfiltered)
	require.True(t, got, "empty subscription set receives everything")
	assert.Equal(t, "metrics_update", msg["type"])

	h.BroadcastPoint(model.NewPoint("cpu_usage", 80, nil))
	msg, got = recv(filtered)
	require.True(t, got)
	assert.Equal(t, "metrics_update", msg["type"])
	_, got = recv(unfiltered)
	assert.True(t, got)
}

func TestBroadcastAlertIgnoresSubscriptions(t *testing.T) {
	h := newTestHub()
	filtered := h.Register(nil)
	h.Subscribe(filtered.id, "cpu_usage")

	h.BroadcastAlert(model.Alert{
		ID:         "a-1",
		RuleName:   "high_mem",
		MetricName: "memory_usage",
		Severity:   model.SeverityWarning,
	})

	msg, got := recv(filtered)
	require.True(t, got, "alerts reach every client regardless of metric subscriptions")
	assert.Equal(t, "alert", msg["type"])
}

func TestUnsubscribeRestoresReceiveAll(t *testing.T) {
	h := newTestHub()
	c := h.Register(nil)
	h.Subscribe(c.id, "cpu_usage")
	h.Unsubscribe(c.id, "cpu_usage")

	h.BroadcastPoint(model.NewPoint("memory_usage", 60, nil))
	_, got := recv(c)
	assert.True(t, got, "empty set after unsubscribe means receive all")
}

func TestUnregisterIdempotent(t *testing.T) {
	h := newTestHub()
	c := h.Register(nil)
	assert.Equal(t, 1, h.ClientCount())

	h.Unregister(c.id)
	assert.Equal(t, 0, h.ClientCount())
	h.Unregister(c.id) // second removal is a no-op
	assert.Equal(t, 0, h.ClientCount())

	// Broadcasting to an empty hub must not panic.
	h.BroadcastPoint(model.NewPoint("cpu_usage", 50, nil))
}

func TestEnqueueAfterUnregisterIsNoop(t *testing.T) {
	h := newTestHub()
	c := h.Register(nil)
	h.Unregister(c.id)

	// The connection's own read path can still try to reply after the ping
	// loop has torn the client down; that must drop silently, not panic.
	c.sendJSON(map[string]any{"type": "pong"})
	c.enqueue([]byte(`{"type":"metrics_update"}`))
}

func TestUnregisterRacingClientReplies(t *testing.T) {
	h := newTestHub()
	for i := 0; i < 200; i++ {
		c := h.Register(nil)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Unregister(c.id)
		}()
		go func() {
			defer wg.Done()
			c.sendJSON(map[string]any{"type": "pong"})
		}()
		wg.Wait()
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	h := newTestHub()
	c := h.Register(nil)

	point := model.NewPoint("cpu_usage", 50, nil)
	for i := 0; i < sendQueueSize+10; i++ {
		h.BroadcastPoint(point)
	}
	assert.Len(t, c.send, sendQueueSize, "overflow frames are dropped, broadcaster never blocks")
}
