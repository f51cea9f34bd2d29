// Package events pushes call lifecycle updates to agents over websockets,
// replacing "pending calls" polling.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"outbound-dialer/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type EventType string

const (
	EventLockAcquired  EventType = "lock_acquired"
	EventCallState     EventType = "call_state"
	EventAttemptSealed EventType = "attempt_sealed"
	EventLockReleased  EventType = "lock_released"
)

// Message is one push frame.
type Message struct {
	Type EventType `json:"type"`
	// CallerID scopes delivery; empty means every subscriber.
	CallerID  string    `json:"callerId,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxReadBytes   = 512
	clientBuffer   = 64
	broadcastQueue = 256
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	// callerID restricts delivery to one agent; empty receives everything.
	callerID string
}

// Hub maintains websocket subscribers and fans out messages.
// It is created at service start; Run owns the client set until ctx is done.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan Message
	register   chan *client
	unregister chan *client

	upgrader websocket.Upgrader
	log      *slog.Logger

	mu    sync.RWMutex
	count int
	done  chan struct{}
}

// NewHub builds a hub. allowedOrigins empty accepts any origin.
func NewHub(log *slog.Logger, allowedOrigins ...string) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan Message, broadcastQueue),
		register:   make(chan *client),
		unregister: make(chan *client),
		log:        log,
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// Run is the hub's main loop. On return every client is disconnected.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.setCount(0)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount(len(h.clients))
			h.log.Debug("ws client connected", "clients", len(h.clients), "caller_id", c.callerID)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(len(h.clients))

		case m := <-h.broadcast:
			b, err := json.Marshal(m)
			if err != nil {
				h.log.Error("ws marshal", "type", m.Type, "err", err)
				continue
			}
			for c := range h.clients {
				// scoped clients only get their own; unowned messages go to watchers
				if c.callerID != "" && c.callerID != m.CallerID {
					continue
				}
				select {
				case c.send <- b:
				default:
					// slow subscriber; drop it rather than stall everyone
					metrics.HubDropped.Inc()
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

// Broadcast queues m for delivery. It never blocks; when the queue is full the
// message is dropped and counted.
func (h *Hub) Broadcast(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- m:
	default:
		metrics.HubDropped.Inc()
		h.log.Warn("ws broadcast queue full", "type", m.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
	metrics.HubClients.Set(float64(n))
}

// ServeWS upgrades the request and subscribes it. Agents only receive their
// own events; supervisors may pass ?callerId= to watch one agent or omit it
// to watch everyone. The scope is resolved by the caller via scope.
func (h *Hub) ServeWS(scope func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn("ws upgrade failed", "err", err)
			return
		}
		cl := &client{conn: conn, send: make(chan []byte, clientBuffer)}
		if scope != nil {
			cl.callerID = scope(c)
		}

		select {
		case h.register <- cl:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go h.writePump(cl)
		go h.readPump(cl)
	}
}

// readPump only services control frames; clients do not send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("ws read", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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
