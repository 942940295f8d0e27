// Package dashboard pushes tag locations and status notices to browser clients over
// websockets.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kickhunt/huntsync/internal/huntsync"
	"kickhunt/huntsync/internal/model"
)

// Message types sent to clients.
const (
	TypeSnapshot  = "snapshot"
	TypeRedisplay = "redisplay"
	TypeStatus    = "status"
)

const (
	sendBuffer  = 16
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	maxReadSize = 4096
)

// Envelope wraps every message sent to a client.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type locationsData struct {
	Locations []model.Location `json:"locations"`
}

type statusData struct {
	Message string              `json:"message"`
	Kind    huntsync.StatusKind `json:"kind"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected dashboard clients. It is an http.Handler for the websocket
// endpoint and a huntsync.Display.
type Hub struct {
	logger   *slog.Logger
	snapshot func() []model.Location
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	markers int
	closed  bool
}

var _ huntsync.Display = (*Hub)(nil)

// NewHub returns a hub that greets each new client with the locations snapshot returns.
func NewHub(snapshot func() []model.Location, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:  make(map[*client]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "dashboard closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	var locations []model.Location
	if h.snapshot != nil {
		locations = h.snapshot()
	}
	greeting, err := encode(TypeSnapshot, locationsData{Locations: nonNilLocations(locations)})
	if err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		_ = conn.Close()
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	c.send <- greeting

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if len(locations) > 0 {
		h.markers = len(locations)
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("dashboard client connected", "remote", r.RemoteAddr, "clients", total)

	go h.writePump(c)
	h.readPump(c)
}

// HasMarkers reports whether connected clients have tag markers rendered.
func (h *Hub) HasMarkers() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients) > 0 && h.markers > 0
}

// Redisplay sends the full location set to every client.
func (h *Hub) Redisplay(locations []model.Location) {
	h.mu.Lock()
	h.markers = len(locations)
	h.mu.Unlock()
	h.broadcast(TypeRedisplay, locationsData{Locations: nonNilLocations(locations)})
}

// Status sends a status notice to every client.
func (h *Hub) Status(msg string, kind huntsync.StatusKind) {
	h.broadcast(TypeStatus, statusData{Message: msg, Kind: kind})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}

func (h *Hub) broadcast(typ string, data any) {
	msg, err := encode(typ, data)
	if err != nil {
		h.logger.Error("failed to encode dashboard message", "type", typ, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow client; drop it rather than stall the others.
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("dropped slow dashboard client", "remote", c.conn.RemoteAddr().String())
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("dashboard client disconnected", "clients", total)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("dashboard client read failed", "error", err)
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
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

func encode(typ string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Data: data, Timestamp: time.Now().Unix()})
}

func nonNilLocations(locations []model.Location) []model.Location {
	if locations == nil {
		return []model.Location{}
	}
	return locations
}
