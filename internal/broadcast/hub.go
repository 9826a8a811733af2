package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efreitasn/spotexchange/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// DefaultClientBuffer is the number of messages queued per connection
	// before new ones are dropped for that connection.
	DefaultClientBuffer = 256
)

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *client) subscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = make(map[string]bool, len(channels))
	for _, ch := range channels {
		c.channels[ch] = true
	}
}

// Hub serves /stream and delivers messages to every connected client
// subscribed to the message's channel. A slow client only loses its own
// messages.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	onCount  func(int)
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

var _ Sink = (*Hub)(nil)

// NewHub creates a Hub. onCount, if set, is called with the number of open
// connections whenever it changes.
func NewHub(buffer int, onCount func(int), logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		buffer:  buffer,
		onCount: onCount,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.buffer)}
	c.subscribe(AllChannels)

	welcome, _ := json.Marshal(Message{
		Type:      "connected",
		Data:      map[string]any{"message": "Connected to exchange stream", "channels": AllChannels},
		Timestamp: domain.FormatTime(time.Now()),
	})
	c.send <- welcome

	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Info("stream client connected", slog.String("remote_addr", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.reportCount(n)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.reportCount(n)
}

func (h *Hub) reportCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

type subscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// readPump handles subscribe requests until the connection fails.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
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
				h.logger.Debug("stream client read failed", slog.String("error", err.Error()))
			}
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Type != "subscribe" {
			continue
		}
		channels := validChannels(req.Channels)
		c.subscribe(channels)

		ack, _ := json.Marshal(Message{
			Type:      "subscribed",
			Data:      map[string]any{"channels": channels},
			Timestamp: domain.FormatTime(time.Now()),
		})
		h.trySend(c, ack)
	}
}

// validChannels keeps known channels; an empty request means all of them.
func validChannels(requested []string) []string {
	if len(requested) == 0 {
		return AllChannels
	}
	out := make([]string, 0, len(requested))
	for _, ch := range requested {
		if slices.Contains(AllChannels, ch) && !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// Deliver queues payload for every client subscribed to channel.
func (h *Hub) Deliver(channel, _ string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.subscribed(channel) {
			h.trySendLocked(c, payload)
		}
	}
}

// trySend must not race with unregister closing c.send.
func (h *Hub) trySend(c *client, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.trySendLocked(c, payload)
	}
}

func (h *Hub) trySendLocked(c *client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.logger.Debug("stream client buffer full, message dropped")
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	h.reportCount(0)
}
