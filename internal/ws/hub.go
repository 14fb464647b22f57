// Package ws streams anomaly activity to WebSocket clients. Clients
// subscribe to event channels (anomaly.detected, anomaly.group,
// anomaly.resolved, or "all") and may scope the feed to a single
// monitored connection.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/models"
)

// Hub maintains the set of active clients and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     logging.Logger
	mutex      sync.RWMutex
}

// Client is one WebSocket subscriber.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	channels     []string
	connectionID *string // optional scope to one monitored connection
	logger       logging.Logger
}

// Message is the frame sent to clients.
type Message struct {
	Type         string         `json:"type"`
	Channel      string         `json:"channel"`
	ConnectionID string         `json:"connection_id"`
	Data         map[string]any `json:"data"`
	Timestamp    time.Time      `json:"timestamp"`
}

// SubscriptionMessage is the frame clients send to manage channels.
type SubscriptionMessage struct {
	Action       string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels     []string `json:"channels"`
	ConnectionID *string  `json:"connection_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a WebSocket hub.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.WithFields(logging.Fields{
				"client_count": len(h.clients),
				"channels":     client.channels,
			}).Info("WebSocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			h.logger.WithFields(logging.Fields{
				"client_count": len(h.clients),
			}).Info("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) broadcastMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		h.logger.WithError(err).Error("Failed to unmarshal broadcast message")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if !client.wants(&msg) {
			continue
		}

		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// wants reports whether the client subscribed to this message's channel
// and connection scope.
func (c *Client) wants(msg *Message) bool {
	if c.connectionID != nil && *c.connectionID != msg.ConnectionID {
		return false
	}
	for _, channel := range c.channels {
		if channel == msg.Channel || channel == "all" {
			return true
		}
	}
	return false
}

// BroadcastEvent publishes an anomaly event to subscribed clients. The
// event kind doubles as the channel name.
func (h *Hub) BroadcastEvent(kind models.EventKind, connectionID string, data map[string]any) {
	message := Message{
		Type:         "event",
		Channel:      string(kind),
		ConnectionID: connectionID,
		Data:         data,
		Timestamp:    time.Now().UTC(),
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	select {
	case h.broadcast <- messageBytes:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// GetStats returns subscriber counts per channel.
func (h *Hub) GetStats() map[string]any {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	channelStats := make(map[string]int)
	for client := range h.clients {
		for _, channel := range client.channels {
			channelStats[channel]++
		}
	}

	return map[string]any{
		"total_clients":         len(h.clients),
		"channel_subscriptions": channelStats,
	}
}

// ServeWS upgrades an HTTP request into a hub client. A connection_id
// query parameter or X-Connection-Id header pre-scopes the feed; the
// subscription message can still change it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		channels: []string{},
		logger:   h.logger,
	}
	if id := r.URL.Query().Get("connection_id"); id != "" {
		client.connectionID = &id
	} else if id := r.Header.Get("X-Connection-Id"); id != "" {
		client.connectionID = &id
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

// readPump consumes subscription frames until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			c.logger.WithError(err).Warn("Invalid subscription message")
			continue
		}

		c.handleSubscription(&subMsg)
	}
}

// writePump pushes hub messages and pings to the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued messages into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleSubscription(msg *SubscriptionMessage) {
	switch msg.Action {
	case "subscribe":
		c.channels = append(c.channels, msg.Channels...)
		if msg.ConnectionID != nil {
			c.connectionID = msg.ConnectionID
		}
		c.logger.WithFields(logging.Fields{
			"channels":      msg.Channels,
			"connection_id": msg.ConnectionID,
		}).Info("Client subscribed to channels")

		c.sendMessage(map[string]any{
			"type":     "subscription_confirmed",
			"channels": c.channels,
		})

	case "unsubscribe":
		for _, channel := range msg.Channels {
			for i, existing := range c.channels {
				if existing == channel {
					c.channels = append(c.channels[:i], c.channels[i+1:]...)
					break
				}
			}
		}

		c.logger.WithFields(logging.Fields{
			"unsubscribed": msg.Channels,
			"remaining":    c.channels,
		}).Info("Client unsubscribed from channels")

		c.sendMessage(map[string]any{
			"type":     "unsubscription_confirmed",
			"channels": c.channels,
		})
	}
}

func (c *Client) sendMessage(data map[string]any) {
	message, err := json.Marshal(data)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client message")
		return
	}

	select {
	case c.send <- message:
	default:
		close(c.send)
	}
}
