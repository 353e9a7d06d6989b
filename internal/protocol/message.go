// Package protocol defines the typed inter-agent message envelope and the
// factory functions, legacy-format adapter, and routing rules that sit on
// top of the event bus.
package protocol

import (
	"time"

	"github.com/google/uuid"

	"github.com/brendan721/flipsync-agents/internal/bus"
)

// Kind enumerates the five message envelope kinds.
type Kind string

const (
	KindUpdate   Kind = "update"
	KindAlert    Kind = "alert"
	KindQuery    Kind = "query"
	KindCommand  Kind = "command"
	KindResponse Kind = "response"
)

// Priority mirrors bus.Priority one to one; it exists as a distinct type so
// message construction does not require importing bus priority constants
// directly at every call site.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// ToBusPriority maps a message Priority to the corresponding bus.Priority.
// The mapping is one-to-one: Critical, High, Normal, Low.
func (p Priority) ToBusPriority() bus.Priority {
	switch p {
	case PriorityCritical:
		return bus.PriorityCritical
	case PriorityHigh:
		return bus.PriorityHigh
	case PriorityLow:
		return bus.PriorityLow
	default:
		return bus.PriorityNormal
	}
}

// Message is the immutable inter-agent envelope. Kind-specific fields are
// populated only for the matching Kind; the factory functions enforce this.
type Message struct {
	ID             string
	Kind           Kind
	SenderID       string
	ReceiverID     string // empty means broadcast candidate
	Timestamp      time.Time
	Content        any
	Priority       Priority
	CorrelationID  string
	Metadata       map[string]any
	ActionRequired bool

	// Alert-specific
	Severity  string
	AlertType string

	// Query-specific
	Query   string
	Context map[string]any

	// Command-specific
	Command    string
	Parameters map[string]any
	Deadline   *time.Time

	// Response-specific
	RequestID     string
	Status        string
	Result        map[string]any
	Errors        []string
	ExecutionTime time.Duration
}

func newEnvelope(kind Kind, senderID string, priority Priority) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		SenderID:  senderID,
		Timestamp: time.Now(),
		Priority:  priority,
		Metadata:  make(map[string]any),
	}
}

// NewUpdate constructs a Kind=Update message.
func NewUpdate(senderID, receiverID string, content any, priority Priority) Message {
	m := newEnvelope(KindUpdate, senderID, priority)
	m.ReceiverID = receiverID
	m.Content = content
	return m
}

// NewAlert constructs a Kind=Alert message.
func NewAlert(senderID, severity, alertType string, content any, priority Priority) Message {
	m := newEnvelope(KindAlert, senderID, priority)
	m.Severity = severity
	m.AlertType = alertType
	m.Content = content
	m.ActionRequired = true
	return m
}

// NewQuery constructs a Kind=Query message and assigns it a fresh
// correlation id, since a query is always the initiator of an exchange.
func NewQuery(senderID, receiverID, query string, queryCtx map[string]any, priority Priority) Message {
	m := newEnvelope(KindQuery, senderID, priority)
	m.ReceiverID = receiverID
	m.Query = query
	m.Context = queryCtx
	m.CorrelationID = uuid.NewString()
	return m
}

// NewCommand constructs a Kind=Command message and assigns it a fresh
// correlation id, since a command is always the initiator of an exchange.
func NewCommand(senderID, receiverID, command string, params map[string]any, deadline *time.Time, priority Priority) Message {
	m := newEnvelope(KindCommand, senderID, priority)
	m.ReceiverID = receiverID
	m.Command = command
	m.Parameters = params
	m.Deadline = deadline
	m.CorrelationID = uuid.NewString()
	m.ActionRequired = true
	return m
}

// NewResponse constructs a Kind=Response message replying to request, carrying
// its correlation id verbatim so follow-ups chain correctly.
func NewResponse(senderID string, request Message, status string, result map[string]any, errs []string, execTime time.Duration) Message {
	m := newEnvelope(KindResponse, senderID, PriorityNormal)
	m.ReceiverID = request.SenderID
	m.RequestID = request.ID
	m.CorrelationID = request.CorrelationID
	m.Status = status
	m.Result = result
	m.Errors = errs
	m.ExecutionTime = execTime
	return m
}

// ToLegacyMap converts a Message to the loose map representation used by
// collaborators that predate the typed envelope.
func ToLegacyMap(m Message) map[string]any {
	legacy := map[string]any{
		"id":              m.ID,
		"kind":            string(m.Kind),
		"sender_id":       m.SenderID,
		"receiver_id":     m.ReceiverID,
		"timestamp":       m.Timestamp,
		"content":         m.Content,
		"priority":        int(m.Priority),
		"correlation_id":  m.CorrelationID,
		"metadata":        m.Metadata,
		"action_required": m.ActionRequired,
	}
	switch m.Kind {
	case KindAlert:
		legacy["severity"] = m.Severity
		legacy["alert_type"] = m.AlertType
	case KindQuery:
		legacy["query"] = m.Query
		legacy["context"] = m.Context
	case KindCommand:
		legacy["command"] = m.Command
		legacy["parameters"] = m.Parameters
		legacy["deadline"] = m.Deadline
	case KindResponse:
		legacy["request_id"] = m.RequestID
		legacy["status"] = m.Status
		legacy["result"] = m.Result
		legacy["errors"] = m.Errors
		legacy["execution_time"] = m.ExecutionTime
	}
	return legacy
}

// FromLegacyMap reconstructs a Message from its loose map representation.
// Missing optional keys are left at their zero value.
func FromLegacyMap(legacy map[string]any) Message {
	m := Message{
		ID:             stringField(legacy, "id"),
		Kind:           Kind(stringField(legacy, "kind")),
		SenderID:       stringField(legacy, "sender_id"),
		ReceiverID:     stringField(legacy, "receiver_id"),
		Content:        legacy["content"],
		CorrelationID:  stringField(legacy, "correlation_id"),
		ActionRequired: boolField(legacy, "action_required"),
	}
	if ts, ok := legacy["timestamp"].(time.Time); ok {
		m.Timestamp = ts
	}
	if p, ok := legacy["priority"].(int); ok {
		m.Priority = Priority(p)
	}
	if md, ok := legacy["metadata"].(map[string]any); ok {
		m.Metadata = md
	}
	switch m.Kind {
	case KindAlert:
		m.Severity = stringField(legacy, "severity")
		m.AlertType = stringField(legacy, "alert_type")
	case KindQuery:
		m.Query = stringField(legacy, "query")
		if c, ok := legacy["context"].(map[string]any); ok {
			m.Context = c
		}
	case KindCommand:
		m.Command = stringField(legacy, "command")
		if p, ok := legacy["parameters"].(map[string]any); ok {
			m.Parameters = p
		}
		if d, ok := legacy["deadline"].(*time.Time); ok {
			m.Deadline = d
		}
	case KindResponse:
		m.RequestID = stringField(legacy, "request_id")
		m.Status = stringField(legacy, "status")
		if r, ok := legacy["result"].(map[string]any); ok {
			m.Result = r
		}
		if e, ok := legacy["errors"].([]string); ok {
			m.Errors = e
		}
		if d, ok := legacy["execution_time"].(time.Duration); ok {
			m.ExecutionTime = d
		}
	}
	return m
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
