package badges

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// Subscriber yields published snapshot payloads.
type Subscriber interface {
	Subscribe(ctx context.Context) *redis.PubSub
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans badge snapshots out to connected websocket clients.
type Hub struct {
	clients  map[*client]struct{}
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues payload for every client. Slow clients skip the message.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("badge client lagging, dropping update")
		}
	}
}

// Run forwards published snapshots to clients until ctx ends.
func (h *Hub) Run(ctx context.Context, sub Subscriber) {
	pubsub := sub.Subscribe(ctx)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Warn("close badge subscription", slog.Any("error", err))
		}
	}()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast([]byte(msg.Payload))
		}
	}
}

// Serve upgrades the request and streams snapshots, starting with initial.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initial []byte) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade badge stream", slog.Any("error", err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if initial != nil {
		c.send <- initial
	}
	h.register(c)
	h.logger.Debug("badge client connected", slog.Int("clients", h.Clients()))
	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		h.logger.Debug("badge client disconnected", slog.Int("clients", h.Clients()))
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("badge stream closed", slog.Any("error", err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
