package websocket

import (
	"sync"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
)

// Hub tracks the live websocket connections of one relay instance.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Connection]bool
	Register   chan *Connection
	Unregister chan *Connection
	Broadcast  chan domain.Envelope
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Connection]bool),
		Register:   make(chan *Connection),
		Unregister: make(chan *Connection),
		Broadcast:  make(chan domain.Envelope),
	}
}

// Run starts the Hub's main loop for handling connections and broadcasts.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.Register:
			h.addClient(conn)
		case conn := <-h.Unregister:
			h.removeClient(conn)
		case env := <-h.Broadcast:
			h.broadcast(env)
		}
	}
}

// Close gracefully shuts down the Hub, closing all connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		close(conn.Send)
		conn.Ws.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) addClient(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) removeClient(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		close(conn.Send)
	}
}

// broadcast pushes an instance-wide notice to every client, used for
// shutdown and operational events; room traffic goes through NATS.
func (h *Hub) broadcast(env domain.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		select {
		case conn.Send <- env:
		default:
			// Slow consumer, drop the connection.
			go func(c *Connection) { h.Unregister <- c }(conn)
		}
	}
}
