package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub streams audit records to websocket subscribers.
// Write never blocks the caller: when the buffer is full the record is dropped
// for the live stream (durable sinks still have it).
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	lock      sync.Mutex
	dropped   int64
}

// NewHub creates a hub with the given broadcast buffer
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, buffer),
	}
}

// Run delivers queued records until ctx is done, then closes all clients
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.lock.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.lock.Unlock()
			return
		case message := <-h.broadcast:
			h.lock.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.lock.Unlock()
		}
	}
}

// Write queues rec for broadcast
func (h *Hub) Write(rec Record) error {
	msg, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- msg:
	default:
		h.lock.Lock()
		h.dropped++
		h.lock.Unlock()
	}
	return nil
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// Dropped returns how many records were not streamed because the buffer was full
func (h *Hub) Dropped() int64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.dropped
}

// ServeHTTP upgrades the request and registers the subscriber
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.lock.Lock()
	h.clients[conn] = true
	h.lock.Unlock()

	// Drain reads so close frames are processed and dead clients are removed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.lock.Lock()
				if h.clients[conn] {
					conn.Close()
					delete(h.clients, conn)
				}
				h.lock.Unlock()
				return
			}
		}
	}()
}
