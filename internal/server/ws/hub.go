// Package ws streams engine events from the signal bus to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	resubscribeMin = time.Second
	resubscribeMax = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origins are checked by the CORS middleware; clients also need
	// an API key.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StatusFunc returns the snapshot sent on connect and on request.
type StatusFunc func() any

// Config selects the bus channel relayed to clients and the status snapshot.
type Config struct {
	// Channel defaults to domain.EventsChannel.
	Channel string
	Status  StatusFunc
}

// Hub relays every event published on the bus channel to the connected
// clients whose event filter matches the event type.
//
// Clients send {"action":"subscribe","events":["exit_*"]} to narrow the
// stream, "unsubscribe" to remove patterns and {"action":"status"} to get a
// fresh snapshot. A new client receives every event type.
type Hub struct {
	bus     domain.SignalBus
	channel string
	status  StatusFunc
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	channel := cfg.Channel
	if channel == "" {
		channel = domain.EventsChannel
	}
	return &Hub{
		bus:     bus,
		channel: channel,
		status:  cfg.Status,
		clients: make(map[*client]struct{}),
		logger:  logger.With(slog.String("component", "ws_hub")),
	}
}

// Run relays bus messages until ctx is done, resubscribing with backoff when
// the subscription drops. On return every client is disconnected.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()

	delay := resubscribeMin
	for {
		msgs, err := h.bus.Subscribe(ctx, h.channel)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.logger.Warn("ws: subscribe failed",
				slog.String("channel", h.channel),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
		} else {
			h.logger.Info("ws: relaying channel", slog.String("channel", h.channel))
			delay = resubscribeMin
			h.relay(ctx, msgs)
			if ctx.Err() != nil {
				return nil
			}
			h.logger.Warn("ws: subscription closed", slog.String("channel", h.channel))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, resubscribeMax)
	}
}

func (h *Hub) relay(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			h.Broadcast(data)
		}
	}
}

// Broadcast queues an encoded domain.Event for every interested client. A
// client whose buffer is full misses the message.
func (h *Hub) Broadcast(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		h.logger.Debug("ws: dropping non-event payload", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(head.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: client too slow, message dropped",
				slog.String("remote_addr", c.remote),
				slog.String("event", head.Type),
			)
		}
	}
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:    h,
		conn:   conn,
		remote: r.RemoteAddr,
		send:   make(chan []byte, sendBufferSize),
		types:  map[string]bool{"*": true},
	}
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws: client connected", slog.String("remote_addr", c.remote), slog.Int("clients", n))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Info("ws: client disconnected", slog.String("remote_addr", c.remote), slog.Int("clients", n))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// clientMsg is a control message from a client.
type clientMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte

	mu    sync.RWMutex
	types map[string]bool
}

// wants reports whether the client's filter matches eventType. A pattern
// ending in '*' matches by prefix.
func (c *client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.types[eventType] {
		return true
	}
	for p := range c.types {
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

func (c *client) handle(msg clientMsg) {
	switch strings.ToLower(msg.Action) {
	case "subscribe":
		c.mu.Lock()
		// The first explicit subscription replaces the match-all default.
		delete(c.types, "*")
		for _, t := range msg.Events {
			c.types[t] = true
		}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		for _, t := range msg.Events {
			delete(c.types, t)
		}
		c.mu.Unlock()
	case "status":
		c.sendStatus()
	}
}

func (c *client) sendStatus() {
	if c.hub.status == nil {
		return
	}
	msg, err := json.Marshal(map[string]any{
		"type":    "engine_status",
		"payload": c.hub.status(),
	})
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg clientMsg
		if err := json.Unmarshal(data, &msg); err == nil && msg.Action != "" {
			c.handle(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
