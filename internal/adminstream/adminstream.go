// Package adminstream exposes connection lifecycle events over a websocket
// hub, adapted from the register/unregister/broadcast goroutine pattern
// used for the DAG visualization feed in the teacher repo's websocket
// package: a map of subscriber sockets guarded by a mutex, fed by channels
// so the broadcaster never blocks the game-path goroutine publishing events.
package adminstream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocx/gateway/internal/events"
)

// LifecycleEvent is the JSON shape pushed to admin websocket subscribers.
// It deliberately excludes payload bytes — the admin feed is a visibility
// surface, not a data-plane mirror.
type LifecycleEvent struct {
	Kind      string    `json:"kind"`
	ConnID    string    `json:"conn_id"`
	Timestamp time.Time `json:"timestamp"`
	SentBytes int       `json:"sent_bytes,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Hub manages websocket subscribers to the connection lifecycle feed.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan LifecycleEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

// New creates a Hub. Call Run in its own goroutine before serving
// HandleWebSocket requests.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan LifecycleEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Run drives the hub's register/unregister/broadcast loop until stop is
// closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(ev); err != nil {
					h.log.Warn("admin stream write failed", "error", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request and registers the resulting
// socket as a subscriber.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("admin stream upgrade failed", "error", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish converts a connection Event into a LifecycleEvent and enqueues it
// for broadcast. Non-blocking: under a full queue the new event is dropped
// rather than stalling the publisher; events already queued are kept.
func (h *Hub) Publish(e events.Event) {
	le := LifecycleEvent{
		Kind:      e.Kind.String(),
		ConnID:    e.ConnID,
		Timestamp: time.Now(),
		SentBytes: len(e.SentBytes),
	}
	if e.ErrorDetail != nil {
		le.Error = e.ErrorDetail.Err.Error()
	}
	select {
	case h.broadcast <- le:
	default:
		h.log.Warn("admin stream broadcast queue full, dropping event")
	}
}

// ClientCount reports the number of currently registered subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
