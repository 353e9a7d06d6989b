// Package intent implements the intent router and chat orchestrator: text
// classification, workflow-trigger detection, agent routing with handoff
// detection, and the end-to-end handle_message pipeline described in
// spec.md §4.I.
package intent

import (
	"context"
	"time"

	"github.com/brendan721/flipsync-agents/internal/registry"
)

// Intent is one of the closed set of classifiable user intents.
type Intent string

const (
	IntentMarketQuery            Intent = "market_query"
	IntentAnalyticsQuery         Intent = "analytics_query"
	IntentLogisticsQuery         Intent = "logistics_query"
	IntentContentQuery           Intent = "content_query"
	IntentExecutiveQuery         Intent = "executive_query"
	IntentGeneralQuery           Intent = "general_query"
	IntentInventoryCheck         Intent = "inventory_check"
	IntentInventoryUpdate        Intent = "inventory_update"
)

// Sender identifies who authored a persisted chat message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// Conversation is the boundary type for a persisted chat thread.
type Conversation struct {
	ID              string
	UserID          string
	Title           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Metadata        map[string]any
	AssignedAgentID string
}

// ChatMessage is the boundary type for one persisted chat turn.
type ChatMessage struct {
	ID             string
	ConversationID string
	Content        string
	Sender         Sender
	AgentCategory  registry.Category
	Timestamp      time.Time
	ThreadID       string
	ParentID       string
	Metadata       map[string]any
}

// ChatRepository is the persistence collaborator interface consumed by the
// orchestrator (conversations + messages). Concrete implementations live in
// internal/adapters/chatrepo.
type ChatRepository interface {
	CreateConversation(ctx context.Context, userID, title string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string) ([]Conversation, error)
	MostRecentConversation(ctx context.Context, userID string) (Conversation, error)
	SetAssignedAgent(ctx context.Context, conversationID, agentID string) error

	CreateMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error)
	ListMessagesByConversation(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error)
}

// HandoffContext summarizes a transition of conversational responsibility
// from one agent to another.
type HandoffContext struct {
	Timestamp            time.Time
	From                  string
	To                    string
	Reason                string
	IntentConfidence      float64
	Entities              map[string]any
	ConversationSummary   string
}

// Reply is what HandleMessage returns: the message persisted as the
// assistant's reply (or acknowledgement, for a triggered workflow).
type Reply struct {
	Message         ChatMessage
	RoutedIntent    Intent
	Confidence      float64
	HandoffOccurred bool
	WorkflowTriggered string
}
