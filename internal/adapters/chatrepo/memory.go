// Package chatrepo implements the conversation/message persistence
// collaborator consumed by internal/intent (spec.md §6 repository shape).
// Memory provides an in-memory implementation used by tests and local runs;
// Postgres provides a sqlx/pgx-backed implementation for production use.
package chatrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/intent"
)

// Memory is an in-memory ChatRepository, safe for concurrent use. It is the
// default collaborator wired when no PostgresDSN is configured.
type Memory struct {
	mu            sync.Mutex
	conversations map[string]intent.Conversation
	byUser        map[string][]string // userID -> conversation ids, creation order
	messages      map[string][]intent.ChatMessage
}

// NewMemory constructs an empty in-memory chat repository.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]intent.Conversation),
		byUser:        make(map[string][]string),
		messages:      make(map[string][]intent.ChatMessage),
	}
}

func (m *Memory) CreateConversation(ctx context.Context, userID, title string) (intent.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	conv := intent.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
	m.conversations[conv.ID] = conv
	m.byUser[userID] = append(m.byUser[userID], conv.ID)
	return conv, nil
}

func (m *Memory) GetConversation(ctx context.Context, id string) (intent.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return intent.Conversation{}, coorderrors.NotFound("conversation", id)
	}
	return conv, nil
}

func (m *Memory) ListConversationsByUser(ctx context.Context, userID string) ([]intent.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byUser[userID]
	out := make([]intent.Conversation, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.conversations[id])
	}
	return out, nil
}

func (m *Memory) MostRecentConversation(ctx context.Context, userID string) (intent.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byUser[userID]
	if len(ids) == 0 {
		return intent.Conversation{}, coorderrors.NotFound("conversation", "most-recent:"+userID)
	}
	return m.conversations[ids[len(ids)-1]], nil
}

func (m *Memory) SetAssignedAgent(ctx context.Context, conversationID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return coorderrors.NotFound("conversation", conversationID)
	}
	conv.AssignedAgentID = agentID
	conv.UpdatedAt = time.Now()
	m.conversations[conversationID] = conv
	return nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg intent.ChatMessage) (intent.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return intent.ChatMessage{}, coorderrors.NotFound("conversation", msg.ConversationID)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)

	conv := m.conversations[msg.ConversationID]
	conv.UpdatedAt = msg.Timestamp
	m.conversations[msg.ConversationID] = conv
	return msg, nil
}

// ListMessagesByConversation returns messages strictly belonging to
// conversationID, ordered by arrival timestamp, honoring spec.md §3's
// conversation-id-equality invariant: the in-memory store is keyed by
// conversation id so no cross-conversation record can ever be present, but
// the filter below is kept explicit so the invariant is visible in code
// rather than implied by storage layout alone.
func (m *Memory) ListMessagesByConversation(ctx context.Context, conversationID string, limit int) ([]intent.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[conversationID]
	out := make([]intent.ChatMessage, 0, len(all))
	for _, msg := range all {
		if msg.ConversationID != conversationID {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
