package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachsync/coachsync/internal/auth"
	"github.com/coachsync/coachsync/internal/entity"
	"github.com/coachsync/coachsync/internal/infrastructure/config"
	"github.com/coachsync/coachsync/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event types pushed to subscribers.
const (
	EventEntityStateChanged = "entity.state_changed"
	EventEntityReverted     = "entity.reverted"
)

// wsSendBufferSize is the per-client outbound queue. Clients that fall
// further behind than this have events dropped rather than stalling the hub.
const wsSendBufferSize = 256

// WSMessage is the envelope for all WebSocket frames in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// entityStateEvent is the payload for entity.state_changed events.
type entityStateEvent struct {
	EntityID  string       `json:"entity_id"`
	State     entity.State `json:"state"`
	Available bool         `json:"available"`
	Timestamp time.Time    `json:"timestamp"`
}

// entityRevertedEvent is the payload for entity.reverted events.
type entityRevertedEvent struct {
	EntityID  string       `json:"entity_id"`
	State     entity.State `json:"state"`
	Timestamp time.Time    `json:"timestamp"`
}

// Hub tracks connected WebSocket clients and fans events out to them.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	closed  bool
}

func newHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "ws_hub"),
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return
	}
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	// Only the goroutine that actually removed the client closes its
	// send channel, so concurrent unregisters cannot double-close.
	if ok {
		close(c.send)
	}
}

// Broadcast fans an event out to every client subscribed to its type.
// Marshal errors and slow clients are logged, never propagated.
func (h *Hub) Broadcast(eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal event payload", "event_type", eventType, "error", err)
		return
	}

	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.subscribedTo(eventType) {
			c.trySend(msg)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
}

// WSClient is a single WebSocket connection.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *logging.Logger

	mu     sync.RWMutex
	events map[string]struct{}
	all    bool
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS middleware config; the upgrader
	// accepts what the router already let through.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and starts the client pumps.
// Browsers cannot set headers on WebSocket dials, so the token is
// accepted from the query string as well as the Authorization header.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
	if err != nil || !claims.HasScope(auth.ScopeRead) {
		writeUnauthorized(w, "invalid or expired token")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan WSMessage, wsSendBufferSize),
		logger: s.logger.With("component", "ws_client", "subject", claims.Subject),
		events: make(map[string]struct{}),
		all:    true, // subscribed to everything until the client narrows it
	}

	s.hub.register(client)
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func (c *WSClient) subscribedTo(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.all {
		return true
	}
	_, ok := c.events[eventType]
	return ok
}

// subscriptionRequest is the payload of subscribe/unsubscribe frames.
type subscriptionRequest struct {
	Events []string `json:"events"`
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	pongTimeout := time.Duration(cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Deadline errors surface as read failures below
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	const writeWait = 10 * time.Second

	for {
		select {
		case msg, ok := <-c.send:
			//nolint:errcheck // Deadline errors surface as write failures below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Deadline errors surface as write failures below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	switch msg.Type {
	case WSTypeSubscribe:
		var req subscriptionRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError(msg.ID, "invalid subscribe payload")
			return
		}
		c.mu.Lock()
		if len(req.Events) == 0 {
			c.all = true
			c.events = make(map[string]struct{})
		} else {
			c.all = false
			for _, ev := range req.Events {
				c.events[ev] = struct{}{}
			}
		}
		c.mu.Unlock()
		c.sendResponse(msg.ID, "subscribed")

	case WSTypeUnsubscribe:
		var req subscriptionRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError(msg.ID, "invalid unsubscribe payload")
			return
		}
		c.mu.Lock()
		c.all = false
		for _, ev := range req.Events {
			delete(c.events, ev)
		}
		c.mu.Unlock()
		c.sendResponse(msg.ID, "unsubscribed")

	case WSTypePing:
		c.trySend(WSMessage{Type: WSTypePong, ID: msg.ID, Timestamp: time.Now().UTC()})

	default:
		c.sendError(msg.ID, "unknown message type")
	}
}

// trySend queues a message without blocking. Sends to a closed channel
// (client torn down concurrently) are absorbed by the recover.
func (c *WSClient) trySend(msg WSMessage) {
	defer func() {
		//nolint:errcheck // Recover from send on closed channel during teardown
		recover()
	}()
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("dropping event for slow websocket client")
	}
}

func (c *WSClient) sendResponse(id, status string) {
	raw, _ := json.Marshal(map[string]string{"status": status})
	c.trySend(WSMessage{Type: WSTypeResponse, ID: id, Timestamp: time.Now().UTC(), Payload: raw})
}

func (c *WSClient) sendError(id, message string) {
	raw, _ := json.Marshal(map[string]string{"message": message})
	c.trySend(WSMessage{Type: WSTypeError, ID: id, Timestamp: time.Now().UTC(), Payload: raw})
}
