package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Add proper origin validation for production
		return true
	},
}

const clientSendBuffer = 32

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to websocket clients grouped by user. A slow client
// gets dropped rather than blocking the publisher.
type Hub struct {
	logger  *observability.Logger
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *observability.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[uuid.UUID]map[*client]struct{}),
	}
}

// Serve upgrades the request and pumps events to the client until it
// disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(r.Context(), "failed to upgrade websocket", err)
		return err
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(userID, c)
	go h.readPump(userID, c)
	return nil
}

func (h *Hub) writePump(userID uuid.UUID, c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(userID, c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump drains incoming frames so close handshakes are processed. Clients
// never send us application data.
func (h *Hub) readPump(userID uuid.UUID, c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(userID, c)
			return
		}
	}
}

func (h *Hub) remove(userID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, userID)
			}
		}
	}
}

// Publish delivers the event to every client of the event's user. Never
// blocks: a client with a full buffer is disconnected.
func (h *Hub) Publish(ctx context.Context, event Event) {
	payload, err := marshalEvent(event)
	if err != nil {
		h.logger.Error(ctx, "failed to marshal event", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[event.UserID]))
	for c := range h.clients[event.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			warnCtx := observability.WithFields(ctx, observability.Field{Key: "event_type", Value: event.Type})
			h.logger.Warn(warnCtx, "event buffer full, dropping client")
			h.remove(event.UserID, c)
		}
	}
}

func marshalEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}
