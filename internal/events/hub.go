// Package events broadcasts detection summaries to WebSocket subscribers.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veilware/textveil/internal/config"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one subscribed WebSocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan Event
	hub  *Hub
}

// Hub maintains the set of active clients and fans events out to them.
type Hub struct {
	config     config.EventsConfig
	upgrader   websocket.Upgrader
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger

	mu     sync.RWMutex
	active int
}

// NewHub creates an event hub.
func NewHub(cfg config.EventsConfig, logger *zap.Logger) *Hub {
	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run handles registration and broadcasting until the process exits.
func (h *Hub) Run() {
	h.logger.Info("Starting event hub")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.active++
			h.mu.Unlock()
			h.logger.Debug("Event client connected", zap.String("client_id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
				h.active--
			}
			h.mu.Unlock()
			h.logger.Debug("Event client disconnected", zap.String("client_id", client.id))

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					// Slow consumer: drop the event rather than block the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastEvent queues an event for all subscribers. It never blocks.
func (h *Hub) BroadcastEvent(event Event) {
	if !h.config.Enabled {
		return
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Debug("Event dropped, broadcast queue full")
	}
}

// ActiveConnections returns the number of connected subscribers.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// HandleWebSocket upgrades an HTTP request into an event subscription.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ActiveConnections() >= h.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Event, 32),
		hub:  h,
	}
	h.register <- client

	go client.writeLoop()
	go client.readLoop()
}

// writeLoop pushes events and pings to the peer.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop consumes control frames; subscribers never send data messages.
func (c *Client) readLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
