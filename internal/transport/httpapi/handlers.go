package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/intent"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

// CreateConversationRequest is the body of POST /api/v1/chat/conversations.
type CreateConversationRequest struct {
	Title string `json:"title" validate:"omitempty,max=200"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, s.logger, coorderrors.Validation("malformed request body: %v", err))
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.logger, coorderrors.Validation("invalid request: %v", err))
		return
	}

	userID := userIDFrom(r)
	conv, err := s.repo.CreateConversation(r.Context(), userID, req.Title)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	convs, err := s.repo.ListConversationsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// conversationDetails adds simple stats (message count) to the stored
// conversation record, matching spec.md §6's "details + stats" contract.
type conversationDetails struct {
	intent.Conversation
	MessageCount int `json:"message_count"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	conv, err := s.repo.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	msgs, err := s.repo.ListMessagesByConversation(r.Context(), id, 0)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationDetails{Conversation: conv, MessageCount: len(msgs)})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}
	msgs, err := s.repo.ListMessagesByConversation(r.Context(), id, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// PostMessageRequest is the body of POST /api/v1/chat/conversations/{id}/messages.
type PostMessageRequest struct {
	Text      string `json:"text" validate:"required"`
	Sender    string `json:"sender" validate:"omitempty,oneof=user agent system"`
	AgentType string `json:"agent_type" validate:"omitempty"`
	ThreadID  string `json:"thread_id" validate:"omitempty"`
	ParentID  string `json:"parent_id" validate:"omitempty"`
}

// handlePostMessage synchronously persists the user message and
// asynchronously launches the intent router, matching spec.md §6: the
// response is the persisted user-message record, not the agent's reply.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, coorderrors.Validation("malformed request body: %v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, s.logger, coorderrors.Validation("invalid request: %v", err))
		return
	}

	sender := intent.SenderUser
	if req.Sender != "" {
		sender = intent.Sender(req.Sender)
	}

	userID := userIDFrom(r)
	resolved, err := s.orch.ResolveConversationID(r.Context(), userID, conversationID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	persisted, err := s.repo.CreateMessage(r.Context(), intent.ChatMessage{
		ConversationID: resolved.ID,
		Content:        req.Text,
		Sender:         sender,
		AgentCategory:  registry.Category(req.AgentType),
		ThreadID:       req.ThreadID,
		ParentID:       req.ParentID,
		Metadata:       map[string]any{},
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	// Detach the orchestrator run from the request's context so it keeps
	// running after the HTTP response is written (the response only
	// confirms the user message was stored).
	bgCtx := context.Background()
	go func() {
		ctx, cancel := context.WithTimeout(bgCtx, 2*time.Minute)
		defer cancel()
		if _, err := s.orch.HandleMessage(ctx, userID, resolved.ID, req.Text, nil); err != nil {
			s.logger.Error("intent router failed", "conversation_id", resolved.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, persisted)
}
