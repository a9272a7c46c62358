package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/snake-arena/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Maximum sessions one socket may watch at once
	maxWatched = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// Sessions this socket counts as a viewer of. Only touched by readPump.
	watching map[string]bool
}

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type      string `json:"type"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:       uuid.New().String(),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		logger:   logger,
		watching: make(map[string]bool),
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.releaseWatches()
		c.hub.Unregister(c)
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
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// handleMessage processes incoming client messages
func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		if msg.Mode != "" && !domain.GameMode(msg.Mode).Valid() {
			c.sendError("", domain.ErrInvalidMode.Error())
			return
		}
		topic := topicFor(msg.Mode)
		if msg.Type == MessageTypeSubscribe {
			c.hub.Subscribe(c, topic)
		} else {
			c.hub.Unsubscribe(c, topic)
		}
		c.sendMessage(&Message{Type: msg.Type + "d", Mode: msg.Mode, Data: map[string]string{"status": "ok"}})

	case MessageTypeWatch:
		c.watch(msg.SessionID)

	case MessageTypeUnwatch:
		c.unwatch(msg.SessionID)

	case MessageTypeSnapshot:
		c.snapshot(msg.SessionID)

	case MessageTypePing:
		c.sendMessage(&Message{Type: MessageTypePong})

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
		c.sendError("", "unknown message type")
	}
}

func (c *Client) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.hub.ctx, c.hub.storeTimeout)
}

// watch counts this socket as a viewer. Watching the same session twice is
// a no-op so a socket contributes at most one viewer per session.
func (c *Client) watch(sessionID string) {
	if sessionID == "" {
		c.sendError("", "session_id required for watch")
		return
	}
	if c.watching[sessionID] {
		c.snapshot(sessionID)
		return
	}
	if len(c.watching) >= maxWatched {
		c.sendError(sessionID, "too many watched sessions")
		return
	}

	ctx, cancel := c.storeContext()
	defer cancel()
	session, err := c.hub.sessions.IncrementViewers(ctx, sessionID)
	if err != nil {
		c.sendStoreError(sessionID, err)
		return
	}
	c.watching[sessionID] = true
	c.sendMessage(&Message{Type: MessageTypeWatch, SessionID: sessionID, Data: session.Projection()})
}

func (c *Client) unwatch(sessionID string) {
	if !c.watching[sessionID] {
		c.sendError(sessionID, "not watching session")
		return
	}
	delete(c.watching, sessionID)

	ctx, cancel := c.storeContext()
	defer cancel()
	session, err := c.hub.sessions.DecrementViewers(ctx, sessionID)
	if err != nil {
		c.sendStoreError(sessionID, err)
		return
	}
	c.sendMessage(&Message{Type: MessageTypeUnwatch, SessionID: sessionID, Data: session.Projection()})
}

// snapshot replies with the session as currently stored
func (c *Client) snapshot(sessionID string) {
	if sessionID == "" {
		c.sendError("", "session_id required for snapshot")
		return
	}

	ctx, cancel := c.storeContext()
	defer cancel()
	session, err := c.hub.sessions.GetSession(ctx, sessionID)
	if err != nil {
		c.sendStoreError(sessionID, err)
		return
	}
	c.sendMessage(&Message{Type: MessageTypeSnapshot, SessionID: sessionID, Data: session.Projection()})
}

// releaseWatches gives back the viewer count of every watched session. It
// runs after the hub may have stopped, so it does not use the hub context.
func (c *Client) releaseWatches() {
	for sessionID := range c.watching {
		ctx, cancel := context.WithTimeout(context.Background(), c.hub.storeTimeout)
		_, err := c.hub.sessions.DecrementViewers(ctx, sessionID)
		cancel()
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("failed to release viewer", "client_id", c.id, "session_id", sessionID, "error", err)
		}
	}
	clear(c.watching)
}

// writePump pumps messages from the hub to the WebSocket connection
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
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
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

func (c *Client) sendStoreError(sessionID string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.sendError(sessionID, err.Error())
	default:
		c.logger.Error("session registry call failed", "client_id", c.id, "session_id", sessionID, "error", err)
		c.sendError(sessionID, domain.ErrInternalError.Error())
	}
}

func (c *Client) sendError(sessionID, errMsg string) {
	c.sendMessage(&Message{
		Type:      MessageTypeError,
		SessionID: sessionID,
		Data:      map[string]string{"error": errMsg},
	})
}

// sendMessage queues a message for writePump, dropping it if the buffer is
// full
func (c *Client) sendMessage(msg *Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// ServeWs handles WebSocket requests from peers
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "client_id", client.id)
}
