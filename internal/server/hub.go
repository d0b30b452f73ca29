package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. Cross-origin policy is enforced by the CORS middleware.
		return true
	},
}

// Message is the envelope pushed to websocket clients.
type Message struct {
	Type     string               `json:"type"`
	Category string               `json:"category,omitempty"`
	Events   []models.MarketEvent `json:"events,omitempty"`
	Status   any                  `json:"status,omitempty"`
}

// subscribeMsg narrows the categories a client receives. No categories
// means all of them.
type subscribeMsg struct {
	Action     string   `json:"action"`
	Categories []string `json:"categories"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

type broadcastMsg struct {
	category string
	data     []byte
}

// Hub fans snapshot replacements out to connected websocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	status     func() any
	mu         sync.RWMutex
	// done is closed once Run has returned; sends on register and
	// unregister select on it so they never block after shutdown.
	done     chan struct{}
	doneOnce sync.Once
}

// NewHub creates a hub. status, when set, is sent to every client on connect.
func NewHub(status func() any) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		status:     status,
		done:       make(chan struct{}),
	}
}

// Run drives registration and broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			logger.WithFields(logger.Fields{"clients": h.clientCount()}).Debug("ws client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			logger.WithFields(logger.Fields{"clients": h.clientCount()}).Debug("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.category) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					logger.Warn("ws: dropping snapshot for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues a category snapshot for every subscribed client.
func (h *Hub) Publish(category string, events []models.MarketEvent) {
	data, err := json.Marshal(Message{Type: "snapshot", Category: category, Events: events})
	if err != nil {
		logger.Warn("ws: failed to encode snapshot for %s: %v", category, err)
		return
	}
	select {
	case h.broadcast <- broadcastMsg{category: category, data: data}:
	default:
		logger.Warn("ws: broadcast queue full, dropping snapshot for %s", category)
	}
}

// HandleWS upgrades the request and registers the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws: upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}

	// Queued before registration so no snapshot can overtake the greeting.
	c.sendInitialStatus()

	select {
	case h.register <- c:
	case <-h.done:
		c.conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) sendInitialStatus() {
	msg := Message{Type: "status"}
	if c.hub.status != nil {
		msg.Status = c.hub.status()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) isSubscribed(category string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs) == 0 || c.subs[category]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, cat := range msg.Categories {
			c.subs[cat] = true
		}
	case "unsubscribe":
		for _, cat := range msg.Categories {
			delete(c.subs, cat)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ws: unexpected close: %v", err)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
