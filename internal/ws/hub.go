package ws

import (
	"encoding/json"
	"log"
	"sync"

	"avanevis/internal/model"

	"github.com/gorilla/websocket"
)

// Hub handles WebSocket connections and broadcasts job status updates to
// every connected dashboard client.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Start begins the hub loop.
func (h *Hub) Start() {
	go func() {
		for {
			select {
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				n := len(h.clients)
				h.mu.Unlock()
				log.Printf("[WS] Client connected, total clients: %d", n)
			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.Close()
				}
				h.mu.Unlock()
			case message := <-h.broadcast:
				h.mu.Lock()
				for client := range h.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						client.Close()
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}()
}

// BroadcastJobUpdate sends a job update to all connected clients.
func (h *Hub) BroadcastJobUpdate(job *model.Job) {
	update := map[string]any{
		"type":    "job_update",
		"job_id":  job.ID.String(),
		"user_id": job.UserID.String(),
		"status":  job.Status,
	}
	if job.Status == model.StatusFailed && job.ErrorMessage != nil {
		update["error"] = *job.ErrorMessage
	}

	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("[WS] Failed to marshal job update: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		log.Printf("[WS] Broadcast buffer full, dropping update for job %s", job.ID)
	}
}

// RegisterClient registers a new WebSocket client.
func (h *Hub) RegisterClient(conn *websocket.Conn) {
	h.register <- conn
}

// UnregisterClient unregisters a WebSocket client.
func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.unregister <- conn
}
