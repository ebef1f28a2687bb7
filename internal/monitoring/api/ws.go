package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/perfwatch/perfwatch/internal/monitoring/metrics"
	"github.com/perfwatch/perfwatch/internal/monitoring/model"
	"github.com/perfwatch/perfwatch/internal/monitoring/store"
)

const (
	pingInterval  = 30 * time.Second
	readTimeout   = 90 * time.Second
	sendQueueSize = 64
)

// clientMessage is the parsed client → server protocol.
type clientMessage struct {
	Type        string   `json:"type"`
	MetricName  string   `json:"metric_name,omitempty"`
	MetricNames []string `json:"metric_names,omitempty"`
}

// Hub is the live subscriber registry broadcasting metric and alert updates
// to dashboard connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient

	store   *store.Store
	metrics *metrics.Metrics
}

type wsClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	subs   map[string]bool // subscribed metric names; empty = receive all
	closed bool            // send is closed; no further enqueues
}

// NewHub creates an empty hub. The store is consulted for get_metrics
// requests.
func NewHub(st *store.Store, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.Nop()
	}
	return &Hub{clients: make(map[string]*wsClient), store: st, metrics: m}
}

// Register adds a connection under a fresh id with an empty subscription set.
func (h *Hub) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		subs: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[client.id] = client
	h.metrics.ConnectedClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	log.Debug().Str("connection_id", client.id).Msg("dashboard client connected")
	return client
}

// Unregister removes a connection. Removing an already-gone connection is a
// no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	client, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.metrics.ConnectedClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	if ok {
		// Closing under the client mutex excludes in-flight enqueues from the
		// connection's own read path, which holds no hub lock.
		client.mu.Lock()
		client.closed = true
		close(client.send)
		client.mu.Unlock()
	}
	if ok {
		log.Debug().Str("connection_id", id).Msg("dashboard client disconnected")
	}
}

// Subscribe adds a metric name to the connection's subscription set.
func (h *Hub) Subscribe(connectionID, metricName string) {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	client.mu.Lock()
	client.subs[metricName] = true
	client.mu.Unlock()
}

// Unsubscribe removes a metric name from the connection's subscription set.
func (h *Hub) Unsubscribe(connectionID, metricName string) {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	client.mu.Lock()
	delete(client.subs, metricName)
	client.mu.Unlock()
}

// ClientCount returns the number of active connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastPoint pushes a metrics_update to every connection whose
// subscription set is empty or contains the point's metric name. Intended as
// a store point-observer.
func (h *Hub) BroadcastPoint(point model.MetricPoint) {
	data, err := json.Marshal(map[string]any{
		"type":      "metrics_update",
		"data":      point,
		"timestamp": model.UnixSeconds(time.Now()),
	})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.wantsMetric(point.Name) {
			client.enqueue(data)
		}
	}
}

// BroadcastAlert pushes an alert message to every active connection,
// independent of subscription filtering and of dispatch outcome. Intended as
// an engine alert-observer.
func (h *Hub) BroadcastAlert(alert model.Alert) {
	data, err := json.Marshal(map[string]any{
		"type": "alert",
		"data": alert,
	})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.enqueue(data)
	}
}

func (c *wsClient) wantsMetric(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs) == 0 || c.subs[name]
}

// enqueue drops the message when the client's queue is full rather than
// blocking the broadcaster on a slow connection. Enqueueing after the client
// is unregistered is a no-op, never a send on a closed channel.
func (c *wsClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// HandleWS upgrades the connection and runs it until the client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard clients are unauthenticated by design
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept failed")
		return
	}

	client := h.Register(conn)
	ctx := r.Context()

	client.sendJSON(map[string]any{"type": "connection", "connection_id": client.id})

	go client.pingLoop(ctx)
	go client.writePump(ctx)
	client.readPump(ctx)
}

func (c *wsClient) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// pingLoop detects dead connections missing heartbeats.
func (c *wsClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.hub.Unregister(c.id)
				c.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func (c *wsClient) writePump(ctx context.Context) {
	for data := range c.send {
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			c.hub.Unregister(c.id)
			return
		}
	}
}

func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c.id)
		c.conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *wsClient) handleMessage(msg *clientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.MetricName != "" {
			c.hub.Subscribe(c.id, msg.MetricName)
		}
	case "unsubscribe":
		if msg.MetricName != "" {
			c.hub.Unsubscribe(c.id, msg.MetricName)
		}
	case "get_metrics":
		c.sendMetricsData(msg.MetricNames)
	case "ping":
		c.sendJSON(map[string]any{"type": "pong"})
	default:
		log.Debug().Str("type", msg.Type).Str("connection_id", c.id).Msg("unknown dashboard message type")
	}
}

func (c *wsClient) sendMetricsData(names []string) {
	data := make(map[string]any, len(names))
	for _, name := range names {
		series, err := c.hub.store.Series(name, nil, nil)
		if err != nil {
			if !errors.Is(err, store.ErrSeriesNotFound) {
				log.Error().Err(err).Str("metric", name).Msg("get_metrics query failed")
			}
			continue
		}
		data[name] = series
	}
	c.sendJSON(map[string]any{
		"type":      "metrics_data",
		"data":      data,
		"timestamp": model.UnixSeconds(time.Now()),
	})
}
