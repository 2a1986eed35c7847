// Package web serves the control panel API and event stream.
package web

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/earshot/internal/logging"
)

// event is the wire envelope pushed to panel clients.
type event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub fans events out to every connected panel client. Slow clients get
// dropped messages, never a blocked broadcaster.
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}

	upgrader websocket.Upgrader
}

type hubClient struct {
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast pushes one event to all connected clients.
func (h *Hub) Broadcast(name string, payload interface{}) {
	data, err := json.Marshal(event{Event: name, Data: payload})
	if err != nil {
		logging.Errorw("broadcast encode failed", "event", name, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			logging.Debugw("dropping event for slow panel client", "event", name)
		}
	}
}

// ClientCount returns the number of connected panel clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler upgrades panel clients and streams events until they leave.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &hubClient{send: make(chan []byte, 16)}
		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()

		go h.writeLoop(conn, c)
		go h.readLoop(conn, c)
	})
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *hubClient) {
	defer conn.Close()
	for data := range c.send {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(conn *websocket.Conn, c *hubClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
