// Package ws pushes engine events to dashboard clients over WebSocket as
// JSON text frames.
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

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/notify"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	defaultReplay = 20
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS and auth middleware.
		return true
	},
}

// History returns the newest entries of a stream, oldest first.
type History interface {
	StreamTail(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// Config controls what a client receives on connect.
type Config struct {
	// Status, if set, is sent as the first frame.
	Status func() domain.Status
	// History, if set, replays the last Replay events from the events stream.
	History History
	Replay  int
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	subs   map[string]bool // subscribed channels
	closed bool
}

// subscribeMsg is the JSON message a client sends to change subscriptions:
//
//	{"action":"subscribe","channels":["ch:trade_executed"]}
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// envelope wraps hub-originated frames; bus events are forwarded as the
// encoded domain.Event itself.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub manages connected WebSocket clients and forwards engine events to
// those subscribed to the event's channel. Events arrive either from the
// signal bus (SetBus) or in-process through Broadcast.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	cfg        Config
	mu         sync.RWMutex
	logger     *slog.Logger
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub creates a WebSocket hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.Replay <= 0 {
		cfg.Replay = defaultReplay
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// SetBus makes the hub read events from the signal bus instead of relying on
// Broadcast. Call before Run.
func (h *Hub) SetBus(bus domain.SignalBus) { h.bus = bus }

// Broadcast queues an encoded event for clients subscribed to channel. It
// never blocks; when the hub is saturated the event is dropped.
func (h *Hub) Broadcast(channel string, msg []byte) {
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: msg}:
	case <-h.done:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event", slog.String("channel", channel))
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	if h.bus != nil {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) && !c.enqueue(msg.data) {
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe forwards every event published on the bus. Pattern
// subscriptions lose the concrete channel name, so it is rebuilt from the
// event's type.
func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, notify.EventsPattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to events",
			slog.String("pattern", notify.EventsPattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to events", slog.String("pattern", notify.EventsPattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return
			}
			h.Broadcast(eventChannel(data), data)
		}
	}
}

func eventChannel(data []byte) string {
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
		return notify.ChannelPrefix + "unknown"
	}
	return notify.ChannelPrefix + ev.Type
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{notify.EventsPattern: true},
	}
	h.sendInitial(r.Context(), c)

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// sendInitial queues the status snapshot and recent history so a fresh
// dashboard is populated before live events arrive.
func (h *Hub) sendInitial(ctx context.Context, c *client) {
	if h.cfg.Status != nil {
		if msg, err := json.Marshal(envelope{Type: "status", Payload: h.cfg.Status()}); err == nil {
			c.enqueue(msg)
		}
	}
	if h.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	recent, err := h.cfg.History.StreamTail(ctx, notify.EventsStream, h.cfg.Replay)
	if err != nil {
		h.logger.Warn("ws: replay history", slog.String("error", err.Error()))
		return
	}
	for _, m := range recent {
		c.enqueue(m.Payload)
	}
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// enqueue queues msg without blocking and reports whether it was accepted.
func (c *client) enqueue(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads subscription requests from the connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil || sub.Action == "" {
			continue
		}
		c.handleSubscription(sub)
	}
}

// handleSubscription applies a subscribe/unsubscribe request and
// acknowledges it with the resulting channel set.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			if ch = strings.TrimSpace(ch); ch != "" {
				c.subs[ch] = true
			}
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, strings.TrimSpace(ch))
		}
	}
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	if ack, err := json.Marshal(envelope{Type: "subscriptions", Payload: channels}); err == nil {
		c.enqueue(ack)
	}
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}

	// Wildcard match: "ch:*" matches "ch:trade_executed".
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump writes queued messages as text frames and sends periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

var _ notify.Broadcaster = (*Hub)(nil)
