// Package ws implements the WebSocket adapter that streams application
// transitions to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/broadcast"
)

const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection. A non-empty applicationID limits
// delivery to events of that application.
type conn struct {
	ws            *websocket.Conn
	cancel        context.CancelFunc
	applicationID string
	mu            sync.Mutex
}

var _ broadcast.Broadcaster = (*Hub)(nil)

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	mu             sync.RWMutex
	conns          map[*conn]struct{}
	originPatterns []string
	log            *slog.Logger
}

// NewHub creates a new WebSocket hub. allowedOrigin is matched against the
// Origin header; an empty value only admits same-origin clients.
func NewHub(allowedOrigin string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		conns: make(map[*conn]struct{}),
		log:   log,
	}
	if allowedOrigin != "" {
		h.originPatterns = []string{allowedOrigin}
	}
	return h
}

// HandleWS upgrades the request to a WebSocket. The optional
// application_id query parameter narrows the stream to one application.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, cancel: cancel, applicationID: r.URL.Query().Get("application_id")}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("websocket connected", "remote", r.RemoteAddr, "application_id", c.applicationID)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends a message to every connection whose filter admits scope.
func (h *Hub) Broadcast(ctx context.Context, scope string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c.applicationID == "" || c.applicationID == scope {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(ctx, data); err != nil {
			h.log.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
}

// BroadcastEvent marshals a typed event and broadcasts it. Payloads
// implementing broadcast.Scoped reach only clients watching that application
// plus unfiltered clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	var scope string
	if s, ok := payload.(broadcast.Scoped); ok {
		scope = s.ApplicationKey()
	}
	h.Broadcast(ctx, scope, Message{Type: eventType, Payload: data})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.cancel()
		if c.ws != nil {
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}

func (c *conn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, data)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.log.Info("websocket disconnected")
	}
}
