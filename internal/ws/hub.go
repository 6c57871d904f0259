// Package ws fans dispatched alarm payloads out to connected admin
// websocket clients, adapted from a per-project pub/sub hub down to the
// single "alarms" topic this system needs.
package ws

import "sync"

// Subscriber abstracts a streaming client connection.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages the set of clients subscribed to the live alarm feed.
type Hub struct {
	mu        sync.Mutex
	clients   map[Subscriber]struct{}
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte
}

// NewHub creates an initialized Hub and starts its run loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[Subscriber]struct{}),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
		case client := <-h.unreg:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
		case payload := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.Send(payload); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register subscribes client to the live alarm feed.
func (h *Hub) Register(client Subscriber) {
	h.register <- client
}

// Unregister removes client from the feed.
func (h *Hub) Unregister(client Subscriber) {
	h.unreg <- client
}

// Broadcast fans payload out to every connected client. A client whose Send
// fails is disconnected and dropped rather than allowed to block the others.
func (h *Hub) Broadcast(payload []byte) {
	h.broadcast <- payload
}
