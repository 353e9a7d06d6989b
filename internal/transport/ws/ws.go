// Package ws implements the WebSocket surface described in spec.md §6: one
// endpoint per conversation, streaming the realtime event types
// {message, typing, agent_status, workflow_update, agent_coordination,
// system_alert, error} as JSON `{event_type, conversation_id?, timestamp,
// payload}` envelopes. Built on gorilla/websocket, present in the teacher's
// own indirect dependency set and used directly by cklxx-elephant.ai.
package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/brendan721/flipsync-agents/internal/realtime"
)

// Registrar is the subset of the Realtime Broadcaster a connection needs to
// subscribe/unsubscribe itself.
type Registrar interface {
	SubscribeConversation(conversationID string, sub realtime.Subscriber) string
	Unsubscribe(id string)
}

// Handler serves the per-conversation websocket endpoint.
type Handler struct {
	broadcaster Registrar
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewHandler constructs a websocket handler bound to a Realtime Broadcaster.
func NewHandler(broadcaster Registrar, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			// Transport-layer origin checks belong to the out-of-scope auth
			// middleware (spec.md §1); this reference handler accepts any
			// origin so it can be exercised standalone.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Mount attaches the websocket route to r at /ws/conversations/{conversationID}.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/ws/conversations/{conversationID}", h.serveConversation)
}

// wireEvent mirrors realtime.Event on the wire.
type wireEvent struct {
	EventType      string    `json:"event_type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        any       `json:"payload"`
}

// conn adapts a gorilla websocket.Conn to realtime.Subscriber, serializing
// concurrent writes with its own mutex (gorilla connections are not safe for
// concurrent writers).
type conn struct {
	mu *sync.Mutex
	ws *websocket.Conn
}

func (c conn) Send(ev realtime.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(wireEvent{
		EventType:      string(ev.Type),
		ConversationID: ev.ConversationID,
		Timestamp:      ev.Timestamp,
		Payload:        ev.Payload,
	})
}

func (h *Handler) serveConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	subscriber := conn{mu: &sync.Mutex{}, ws: ws}
	subID := h.broadcaster.SubscribeConversation(conversationID, subscriber)
	defer h.broadcaster.Unsubscribe(subID)

	h.logger.Info("websocket subscriber connected", "conversation_id", conversationID)

	// Drain inbound frames (ping/control only — this endpoint is outbound
	// broadcast, per spec.md §6) until the client disconnects.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			h.logger.Info("websocket subscriber disconnected", "conversation_id", conversationID, "error", err)
			return
		}
	}
}
