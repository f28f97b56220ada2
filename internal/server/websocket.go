// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/noldarim/edumesh/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	// WebSocket limits
	maxMessageSize = 4096
	maxFilters     = 50
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxClients     = 1000
)

// newUpgrader creates a WebSocket upgrader that respects the configured allowed
// origins. When allowedOrigins is empty the upgrader accepts any origin
// (localhost development mode). When set, only those origins are permitted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := lo.Keyify(allowedOrigins)

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			_, ok := allowed[origin]
			return ok
		},
	}
}

// SubscriptionFilter determines which events a WebSocket client receives.
// Empty fields match anything.
type SubscriptionFilter struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Workflow      string `json:"workflow,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
}

// IsZero reports whether the filter matches every event.
func (f SubscriptionFilter) IsZero() bool {
	return f == SubscriptionFilter{}
}

// filterFromQuery reads an initial subscription from the upgrade request,
// e.g. /ws?correlation_id=... right after an async submit.
func filterFromQuery(r *http.Request) SubscriptionFilter {
	q := r.URL.Query()
	return SubscriptionFilter{
		CorrelationID: q.Get("correlation_id"),
		Workflow:      q.Get("workflow"),
		AgentID:       q.Get("agent_id"),
	}
}

// wsClient represents a single connected WebSocket client.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	filters []SubscriptionFilter
	mu      sync.RWMutex
}

// ClientRegistry manages all connected WebSocket clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewClientRegistry creates a new client registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*wsClient]struct{}),
	}
}

// Broadcast sends an event to all clients whose filters match.
func (r *ClientRegistry) Broadcast(event protocol.Event) {
	data, err := marshalEvent(event)
	if err != nil {
		getLog().Error().Err(err).Msg("Failed to marshal event for WebSocket broadcast")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.clients {
		if c.matchesAny(event) {
			select {
			case c.send <- data:
			default:
				// client too slow, skip
				getLog().Warn().Msg("Dropping event for slow WebSocket client")
			}
		}
	}
}

func (r *ClientRegistry) add(c *wsClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) >= maxClients {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

func (r *ClientRegistry) remove(c *wsClient) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// matchesAny returns true if the event matches any of the client's filters,
// or if the client has no filters (receives everything).
func (c *wsClient) matchesAny(event protocol.Event) bool {
	c.mu.RLock()
	if len(c.filters) == 0 {
		c.mu.RUnlock()
		return true
	}
	// Copy to avoid reading from a slice that could be modified after unlock
	filters := make([]SubscriptionFilter, len(c.filters))
	copy(filters, c.filters)
	c.mu.RUnlock()

	correlationID, workflow, agentID := extractEventIDs(event)

	for _, f := range filters {
		if f.CorrelationID != "" && f.CorrelationID != correlationID {
			continue
		}
		if f.Workflow != "" && f.Workflow != workflow {
			continue
		}
		if f.AgentID != "" && f.AgentID != agentID {
			continue
		}
		return true
	}
	return false
}

// workflowScoped and agentScoped allow events to declare their scope
// without requiring this file to enumerate every event type.
type workflowScoped interface {
	GetWorkflow() string
}

type agentScoped interface {
	GetAgentID() string
}

// extractEventIDs extracts the correlation id, workflow and agent id from
// an event. Fields an event does not carry are returned empty.
func extractEventIDs(event protocol.Event) (correlationID, workflow, agentID string) {
	correlationID = protocol.GetCorrelationID(event)
	if ws, ok := event.(workflowScoped); ok {
		workflow = ws.GetWorkflow()
	}
	if as, ok := event.(agentScoped); ok {
		agentID = as.GetAgentID()
	}
	return correlationID, workflow, agentID
}

// wsMessage is the envelope for client → server WebSocket messages.
type wsMessage struct {
	Type    string             `json:"type"`    // "subscribe" or "unsubscribe"
	Filters SubscriptionFilter `json:"filters"` // single filter per message
}

// wsOutMessage is the envelope for server → client WebSocket messages.
type wsOutMessage struct {
	Type      string      `json:"type"`                 // "event", "ack" or "error"
	EventType string      `json:"event_type,omitempty"` // e.g. "stage_completed"
	Payload   interface{} `json:"payload,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// eventName turns protocol.StageCompletedEvent into "stage_completed".
func eventName(event protocol.Event) string {
	name := fmt.Sprintf("%T", event)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return lo.SnakeCase(strings.TrimSuffix(name, "Event"))
}

func marshalEvent(event protocol.Event) ([]byte, error) {
	out := wsOutMessage{
		Type:      "event",
		EventType: eventName(event),
		Payload:   event,
	}
	return json.Marshal(out)
}

// reply queues a control message for the client, dropping it when the
// client is not keeping up. Only readPump calls it, before closing send.
func (c *wsClient) reply(kind, message string, filter SubscriptionFilter) {
	data, err := json.Marshal(wsOutMessage{Type: kind, Message: message, Payload: filter})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// HandleWebSocket upgrades an HTTP connection and manages the client lifecycle.
func HandleWebSocket(registry *ClientRegistry, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			getLog().Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := &wsClient{
			conn: conn,
			send: make(chan []byte, 64),
		}
		if f := filterFromQuery(r); !f.IsZero() {
			client.filters = []SubscriptionFilter{f}
		}
		if !registry.add(client) {
			getLog().Warn().Msg("WebSocket connection limit reached")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
			conn.Close()
			return
		}
		getLog().Info().
			Str("remote", r.RemoteAddr).
			Str("request_id", GetRequestID(r.Context())).
			Int("filters", len(client.filters)).
			Msg("WebSocket client connected")

		go client.writePump()
		client.readPump(registry)
	}
}

func (c *wsClient) readPump(registry *ClientRegistry) {
	defer func() {
		registry.remove(c)
		close(c.send) // signals writePump to exit
		c.conn.Close()
		getLog().Info().Msg("WebSocket client disconnected")
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLog().Error().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			getLog().Warn().Err(err).Msg("Invalid WebSocket message")
			c.reply("error", "invalid message", SubscriptionFilter{})
			continue
		}
		kind, text := c.apply(msg)
		c.reply(kind, text, msg.Filters)
	}
}

// apply updates the client's filters and returns the reply to send back.
func (c *wsClient) apply(msg wsMessage) (kind, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case "subscribe":
		if len(c.filters) >= maxFilters {
			getLog().Warn().Msg("WebSocket client hit max filter limit")
			return "error", "too many filters"
		}
		if lo.Contains(c.filters, msg.Filters) {
			return "ack", "already subscribed"
		}
		c.filters = append(c.filters, msg.Filters)
		getLog().Debug().
			Str("correlation_id", msg.Filters.CorrelationID).
			Str("workflow", msg.Filters.Workflow).
			Str("agent_id", msg.Filters.AgentID).
			Msg("WebSocket client subscribed")
		return "ack", "subscribed"
	case "unsubscribe":
		c.filters = removeFilter(c.filters, msg.Filters)
		getLog().Debug().Msg("WebSocket client unsubscribed")
		return "ack", "unsubscribed"
	default:
		return "error", fmt.Sprintf("unknown message type %q", msg.Type)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by readPump, send close frame.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				getLog().Error().Err(err).Msg("WebSocket write error")
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

func removeFilter(filters []SubscriptionFilter, target SubscriptionFilter) []SubscriptionFilter {
	return lo.Reject(filters, func(f SubscriptionFilter, _ int) bool { return f == target })
}
