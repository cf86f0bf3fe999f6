package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/OGODEVO/studious-system/pkg/events"
)

// wsWriteTimeout bounds each WebSocket send so one stalled client cannot
// block the broadcast loop.
const wsWriteTimeout = 5 * time.Second

// wsConnection is a single WebSocket client.
type wsConnection struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Hub fans bus events out to connected WebSocket clients. Clients receive
// the event stream only; inbound messages are ignored.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*wsConnection

	unsubscribe func()
}

// NewHub creates a hub subscribed to the event bus.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{connections: make(map[string]*wsConnection)}
	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		h.broadcast(e)
	})
	return h
}

// HandleConnection manages one WebSocket connection's lifecycle. Blocks
// until the connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &wsConnection{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.connections, c.id)
		h.mu.Unlock()
		cancel()
	}()

	h.send(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	// Read loop: the client sends nothing we act on, but reading is what
	// detects disconnects.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// broadcast sends one event to every connected client.
func (h *Hub) broadcast(e events.Event) {
	h.mu.RLock()
	conns := make([]*wsConnection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.send(c, e)
	}
}

func (h *Hub) send(c *wsConnection, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket payload", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, wsWriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		// A failed write means the connection is going away; its read
		// loop will clean up.
		c.cancel()
	}
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close detaches the hub from the bus and closes all connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.connections {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		c.cancel()
		delete(h.connections, id)
	}
}
