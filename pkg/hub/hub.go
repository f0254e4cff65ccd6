// Package hub is the real-time push layer — spec.md §4.9. It fans out chat
// text deltas/status events and live command output to WebSocket
// subscribers, grounded on the teacher's ConnectionManager
// (pkg/events/manager.go): per-connection subscription sets, a
// channel->connection-IDs index, and a snapshot-then-send broadcast that
// never holds a lock during a write. InfraLLM deliberately drops the
// teacher's Postgres LISTEN/NOTIFY catch-up layer (DESIGN.md): single-replica
// deployment (spec.md §2 Non-goals) means every publish already reaches
// every live subscriber in-process, so there is nothing to catch up on.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// DefaultWriteTimeout bounds how long a single subscriber send may block.
const DefaultWriteTimeout = 5 * time.Second

// ClientMessage is an inbound control frame from a WebSocket subscriber.
type ClientMessage struct {
	Action  string `json:"action"` // "subscribe" | "unsubscribe" | "ping"
	Channel string `json:"channel"`
}

// connection is one live WebSocket client.
//
// subscriptions is only ever touched from the single goroutine running
// HandleConnection for this connection (its read loop and deferred
// cleanup), so it needs no lock of its own — matching the teacher's
// Connection.subscriptions contract.
type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// Hub manages WebSocket connections and their channel subscriptions for one
// process. ChatHub and CommandHub wrap a Hub with domain-specific channel
// naming and publish helpers.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // channel -> set of connection IDs

	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewHub constructs a Hub.
func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{
		connections:  make(map[string]*connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
		logger:       slog.Default(),
	}
}

// HandleConnection owns a WebSocket connection's lifecycle: it registers
// the connection, processes subscribe/unsubscribe/ping frames, and blocks
// until the connection closes or parentCtx is canceled.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            uuid.NewString(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.sendJSON(c, map[string]string{"type": "connection.established", "connectionId": c.id})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("hub: invalid client message", "connectionId", c.id, "error", err)
			continue
		}
		h.handleClientMessage(c, &msg)
	}
}

func (h *Hub) handleClientMessage(c *connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "channel is required"})
			return
		}
		h.subscribe(c, msg.Channel)
		h.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
	case "unsubscribe":
		if msg.Channel == "" {
			return
		}
		h.unsubscribe(c, msg.Channel)
	case "ping":
		h.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (h *Hub) subscribe(c *connection, channel string) {
	h.channelMu.Lock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][c.id] = true
	h.channelMu.Unlock()
	c.subscriptions[channel] = true
}

func (h *Hub) unsubscribe(c *connection, channel string) {
	h.channelMu.Lock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

// Publish marshals v and broadcasts it to every subscriber of channel.
func (h *Hub) Publish(channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("hub: marshal publish payload", "channel", channel, "error", err)
		return
	}
	h.broadcast(channel, data)
}

// broadcast sends raw bytes to every subscriber of channel, snapshotting
// connection pointers before sending so slow writes never block
// register/unregister or other channels' broadcasts.
func (h *Hub) broadcast(channel string, payload []byte) {
	h.channelMu.RLock()
	subs, ok := h.channels[channel]
	if !ok {
		h.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	h.channelMu.RUnlock()

	h.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, payload); err != nil {
			h.logger.Warn("hub: send to subscriber failed", "connectionId", c.id, "channel", channel, "error", err)
		}
	}
}

// ActiveConnections reports the number of live WebSocket connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// SubscriberCount reports how many connections are subscribed to channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
}

func (h *Hub) unregister(c *connection) {
	for ch := range c.subscriptions {
		h.unsubscribe(c, ch)
	}
	h.mu.Lock()
	delete(h.connections, c.id)
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("hub: marshal message", "connectionId", c.id, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		h.logger.Warn("hub: send message", "connectionId", c.id, "error", err)
	}
}

func (h *Hub) sendRaw(c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
