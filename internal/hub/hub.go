package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
)

// Broadcaster delivers push events to connected sessions. Delivery is
// best-effort and at-most-once: a disconnected target simply misses the
// event, and consumers re-fetch authoritative state via the pull API.
type Broadcaster interface {
	SendTo(userID string, event models.Event)
	Broadcast(event models.Event)
}

// Options tunes hub delivery behaviour. OnDrop, when set, is called once per
// session evicted for a full send buffer.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	OnDrop       func()
}

// Hub maps a logical user identity to at most one live websocket connection.
// A reconnect replaces the prior mapping (last-connect-wins). The registry is
// in-memory and process-wide: on restart all routing is lost until clients
// reconnect and re-identify.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	sendBuffer   int
	writeTimeout time.Duration
	onDrop       func()
	logger       *zap.Logger
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// New constructs a Hub.
func New(opts Options, logger *zap.Logger) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:      make(map[string]*client),
		sendBuffer:   opts.SendBuffer,
		writeTimeout: opts.WriteTimeout,
		onDrop:       opts.OnDrop,
		logger:       logger,
	}
}

// Attach registers a connection for the user and starts its pumps. Any
// existing connection for the same user is closed and replaced.
func (h *Hub) Attach(userID string, conn *websocket.Conn) {
	c := &client{userID: userID, conn: conn, send: make(chan []byte, h.sendBuffer)}

	h.mu.Lock()
	if prev, ok := h.clients[userID]; ok {
		close(prev.send)
	}
	h.clients[userID] = c
	h.mu.Unlock()

	h.logger.Info("session connected", zap.String("user_id", userID))

	go h.writePump(c)
	go h.readPump(c)
}

// SendTo delivers a targeted event to the user's live connection, if any.
func (h *Hub) SendTo(userID string, event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[userID]; ok {
		h.deliverLocked(c, data)
	}
}

// Broadcast delivers an event to every connected session.
func (h *Hub) Broadcast(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.deliverLocked(c, data)
	}
}

// ConnectedCount returns the number of live sessions.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliverLocked enqueues without blocking: a client that cannot keep up is
// dropped rather than queued behind.
func (h *Hub) deliverLocked(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		close(c.send)
		delete(h.clients, c.userID)
		if h.onDrop != nil {
			h.onDrop()
		}
		h.logger.Warn("session dropped, send buffer full", zap.String("user_id", c.userID))
	}
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if current, ok := h.clients[c.userID]; ok && current == c {
		delete(h.clients, c.userID)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Info("session disconnected", zap.String("user_id", c.userID))
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close() //nolint:errcheck
	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced"))
}

// readPump discards inbound frames; clients only listen. Its exit detects
// the disconnect.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.detach(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("unexpected websocket close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
	}
}
