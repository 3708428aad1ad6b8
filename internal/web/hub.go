package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kanshi/internal/board"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 5 * time.Second

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub pushes board snapshots to websocket clients.
type Hub struct {
	board     *board.Board
	clients   map[*client]bool
	clientsMu sync.RWMutex
	broadcast chan []byte
}

// NewHub creates a hub for b. Call Run to start pushing.
func NewHub(b *board.Board) *Hub {
	return &Hub{
		board:     b,
		clients:   make(map[*client]bool),
		broadcast: make(chan []byte, 16),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Run forwards board changes to every client until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	go h.handleBroadcasts(ctx)

	var last uint64
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.board.Changes():
			snap := h.board.Snapshot()
			if snap.Version == last {
				continue
			}
			last = snap.Version
			data, err := json.Marshal(snap)
			if err != nil {
				log.Printf("web: marshal snapshot: %v", err)
				continue
			}
			select {
			case h.broadcast <- data:
			default:
			}
		}
	}
}

func (h *Hub) handleBroadcasts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-h.broadcast:
			h.clientsMu.RLock()
			var dead []*client
			for c := range h.clients {
				if err := c.write(message); err != nil {
					dead = append(dead, c)
				}
			}
			h.clientsMu.RUnlock()
			for _, c := range dead {
				h.remove(c)
			}
		}
	}
}

// ServeWS upgrades the request, sends the current snapshot and keeps the
// client registered until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn}

	h.clientsMu.Lock()
	h.clients[c] = true
	h.clientsMu.Unlock()

	if data, err := json.Marshal(h.board.Snapshot()); err == nil {
		if err := c.write(data); err != nil {
			h.remove(c)
			return
		}
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) remove(c *client) {
	h.clientsMu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		c.conn.Close()
	}
	h.clientsMu.Unlock()
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()
}
