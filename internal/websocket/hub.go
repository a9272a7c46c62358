// Package websocket serves the spectator socket. Sockets subscribe to
// leaderboard submissions per mode and hold viewer presence on live sessions
// for as long as they stay connected.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/snake-arena/internal/domain"
)

// Message types
const (
	MessageTypeScoreSubmitted = "score_submitted"
	MessageTypeSubscribe      = "subscribe"
	MessageTypeUnsubscribe    = "unsubscribe"
	MessageTypeWatch          = "watch"
	MessageTypeUnwatch        = "unwatch"
	MessageTypeSnapshot       = "snapshot"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
	MessageTypeError          = "error"
)

// allModes is the subscription topic for submissions in every mode
const allModes = "*"

// Message represents a WebSocket message sent to clients
type Message struct {
	Type      string      `json:"type"`
	Mode      string      `json:"mode,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionRegistry is the part of the live session registry sockets use
type SessionRegistry interface {
	GetSession(ctx context.Context, sessionID string) (*domain.LiveSession, error)
	IncrementViewers(ctx context.Context, sessionID string) (*domain.LiveSession, error)
	DecrementViewers(ctx context.Context, sessionID string) (*domain.LiveSession, error)
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by mode topic
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	sessions     SessionRegistry
	storeTimeout time.Duration
	logger       *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	topic  string
}

// NewHub creates a new Hub. storeTimeout bounds each registry call made on
// behalf of a socket.
func NewHub(sessions SessionRegistry, storeTimeout time.Duration, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:      make(map[string]map[*Client]bool),
		allClients:   make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan *Message, 256),
		subscribe:    make(chan *subscriptionRequest, 64),
		unsubscribe:  make(chan *subscriptionRequest, 64),
		sessions:     sessions,
		storeTimeout: storeTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for topic, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, topic)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.topic]; !ok {
				h.clients[req.topic] = make(map[*Client]bool)
			}
			h.clients[req.topic][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "mode", req.topic)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.topic]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.topic)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "mode", req.topic)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the mode's subscribers and to clients
// subscribed to every mode
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	// A client on both topics gets the message once.
	sent := make(map[*Client]bool)
	for _, topic := range []string{message.Mode, allModes} {
		for client := range h.clients[topic] {
			if sent[client] {
				continue
			}
			sent[client] = true
			select {
			case client.send <- data:
			default:
				// Client's buffer is full, skip
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// NotifyScore fans an accepted submission out to subscribed sockets. It never
// blocks the submitting request.
func (h *Hub) NotifyScore(entry domain.RankedEntry) {
	message := &Message{
		Type:      MessageTypeScoreSubmitted,
		Mode:      string(entry.Mode),
		Data:      entry,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub. After Stop it returns without
// waiting for the loop.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a mode's submissions
func (h *Hub) Subscribe(client *Client, topic string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a mode's submissions
func (h *Hub) Unsubscribe(client *Client, topic string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a mode. An empty
// mode counts clients subscribed to every mode.
func (h *Hub) GetSubscriberCount(mode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topicFor(mode)])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

func topicFor(mode string) string {
	if mode == "" {
		return allModes
	}
	return mode
}
