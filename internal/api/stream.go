package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/trogers1052/trading-dashboard/internal/alert"
	"github.com/trogers1052/trading-dashboard/internal/feed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	clientSendSize = 64
)

// Event types pushed over the stream.
const (
	EventFeed  = "feed"
	EventAlert = "alert"
)

// StreamEvent is one message on the dashboard stream.
type StreamEvent struct {
	Type   string          `json:"type"`
	Feed   *feed.FeedState `json:"feed,omitempty"`
	Alert  *alert.Alert    `json:"alert,omitempty"`
	Active bool            `json:"active,omitempty"`
}

// FeedEvent wraps a feed state change.
func FeedEvent(st feed.FeedState) StreamEvent {
	return StreamEvent{Type: EventFeed, Feed: &st}
}

// AlertEvent wraps an alert change. active is false on dismissal or expiry.
func AlertEvent(a alert.Alert, active bool) StreamEvent {
	return StreamEvent{Type: EventAlert, Alert: &a, Active: active}
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte

	// Until primed, broadcasts collect in backlog so they follow the
	// initial snapshot.
	primed  bool
	backlog [][]byte
}

// Hub fans dashboard changes out to connected WebSocket clients. A client
// that cannot keep up is disconnected rather than slowing the others.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *logrus.Entry

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Entry) *Hub {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.WithField("component", "stream"),
		clients: make(map[*streamClient]struct{}),
	}
}

// OnFeedState is a feed.Observer.
func (h *Hub) OnFeedState(st feed.FeedState) {
	h.Broadcast(FeedEvent(st))
}

// OnAlert is an alert.Listener.
func (h *Hub) OnAlert(a alert.Alert, active bool) {
	h.Broadcast(AlertEvent(a, active))
}

// Broadcast queues ev for every client.
func (h *Hub) Broadcast(ev StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal stream event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.primed {
			if len(c.backlog) >= clientSendSize {
				h.logger.Warn("stream client too slow, disconnecting")
				h.removeLocked(c)
				continue
			}
			c.backlog = append(c.backlog, data)
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("stream client too slow, disconnecting")
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// Serve upgrades the request and streams events until the client goes away.
// The client is registered before snapshot is called, so a change published
// while the snapshot is taken is delivered after it rather than lost.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, snapshot func() []StreamEvent) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &streamClient{conn: conn}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// Taken without h.mu: snapshot reads the registry and alert queue, whose
	// listeners call Broadcast.
	var initial [][]byte
	if snapshot != nil {
		for _, ev := range snapshot() {
			if data, err := json.Marshal(ev); err == nil {
				initial = append(initial, data)
			}
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		conn.Close()
		return
	}
	c.send = make(chan []byte, clientSendSize+len(initial))
	for _, data := range append(initial, c.backlog...) {
		c.send <- data
	}
	c.backlog = nil
	c.primed = true
	h.mu.Unlock()

	h.logger.WithField("remote", r.RemoteAddr).Debug("stream client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) removeLocked(c *streamClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if c.send != nil {
		close(c.send)
	}
}

// readPump discards inbound messages and detects disconnects.
func (h *Hub) readPump(c *streamClient) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(c)
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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
