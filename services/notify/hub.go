// Package notify streams cycle results and alerts to connected WebSocket
// clients. It is the delivery boundary: evaluation never talks to sockets
// directly.
package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rsi-alert-service/services/alerts"
)

const (
	maxClients    = 100
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendQueueSize = 256
)

// Message is the envelope sent to WebSocket clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// client is one connected WebSocket consumer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans cycle results out to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	closeOnce  sync.Once
}

// NewHub creates and starts a notification hub.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go h.run()
	return h
}

// Publish broadcasts a completed cycle result to all clients. It never
// blocks the caller: when the broadcast queue is full the result is dropped
// with a warning.
func (h *Hub) Publish(result *alerts.CycleResult) {
	msg := Message{
		Type: "cycle_result",
		Data: result,
		Time: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("Notification queue full, dropping cycle result for guild %d", result.GuildID)
	}
}

// PublishAlerts broadcasts fired subscription alerts as their own message.
func (h *Hub) PublishAlerts(fired []alerts.Alert) {
	if len(fired) == 0 {
		return
	}
	msg := Message{
		Type: "subscription_alerts",
		Data: fired,
		Time: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("Notification queue full, dropping %d alerts", len(fired))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes all client connections and stops the hub.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.shutdown)
	})

	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
	}
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	log.Println("Notification hub shutdown complete")
}

func (h *Hub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case c := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxClients {
				h.mu.Unlock()
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				c.conn.Close()
				log.Printf("WebSocket client rejected: max clients reached (%d)", maxClients)
				continue
			}
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected. Total clients: %d", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total clients: %d", count)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Error marshaling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			var dead []*client
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					dead = append(dead, c)
				}
			}
			for _, c := range dead {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request to a WebSocket subscription.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= maxClients
	h.mu.RUnlock()
	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

// writePump writes queued messages and keepalive pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
// Inbound payloads are ignored; the stream is one-way.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
