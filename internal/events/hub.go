package events

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub fans events out to live WebSocket subscribers. Dead connections are
// detected on write failure and dropped; subscribers that fall behind lose
// messages rather than stalling the emitters, since the store keeps the
// durable copy.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	queue   chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		queue:   make(chan []byte, 64),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case message := <-h.queue:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					_ = client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast never blocks.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.queue <- message:
	default:
	}
}

func (h *Hub) Attach(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		_ = client.Close()
		delete(h.clients, client)
	}
}
