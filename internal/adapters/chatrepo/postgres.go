package chatrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/intent"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

// conversationRow and messageRow mirror the relational schema via sqlx
// struct tags; JSON columns round-trip through []byte.
type conversationRow struct {
	ID              string    `db:"id"`
	UserID          string    `db:"user_id"`
	Title           string    `db:"title"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	AssignedAgentID string    `db:"assigned_agent_id"`
	Metadata        []byte    `db:"metadata"`
}

type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	Content        string    `db:"content"`
	Sender         string    `db:"sender"`
	AgentCategory  string    `db:"agent_category"`
	Timestamp      time.Time `db:"timestamp"`
	ThreadID       string    `db:"thread_id"`
	ParentID       string    `db:"parent_id"`
	Metadata       []byte    `db:"metadata"`
}

// Postgres is a sqlx/pgx-backed ChatRepository, grounded on kubernaut's
// sqlx data-storage layer (jordigilh-kubernaut's workflow/audit
// repositories). The stdlib pgx driver is registered for database/sql
// compatibility so sqlx.Connect("pgx", dsn) works unmodified.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres opens a sqlx connection to dsn using the pgx stdlib driver.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("chatrepo: connect postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an already-open sqlx.DB (used by the go-sqlmock
// based test so no live database is required).
func NewPostgresFromDB(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) CreateConversation(ctx context.Context, userID, title string) (intent.Conversation, error) {
	now := time.Now().UTC()
	row := conversationRow{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  []byte("{}"),
	}
	const q = `INSERT INTO conversations (id, user_id, title, created_at, updated_at, assigned_agent_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := p.db.ExecContext(ctx, q, row.ID, row.UserID, row.Title, row.CreatedAt, row.UpdatedAt, row.AssignedAgentID, row.Metadata); err != nil {
		return intent.Conversation{}, coorderrors.Wrap(coorderrors.KindCoordination, "create conversation", err)
	}
	return rowToConversation(row), nil
}

func (p *Postgres) GetConversation(ctx context.Context, id string) (intent.Conversation, error) {
	var row conversationRow
	const q = `SELECT id, user_id, title, created_at, updated_at, assigned_agent_id, metadata FROM conversations WHERE id = $1`
	if err := p.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return intent.Conversation{}, coorderrors.NotFound("conversation", id)
		}
		return intent.Conversation{}, coorderrors.Wrap(coorderrors.KindCoordination, "get conversation", err)
	}
	return rowToConversation(row), nil
}

func (p *Postgres) ListConversationsByUser(ctx context.Context, userID string) ([]intent.Conversation, error) {
	var rows []conversationRow
	const q = `SELECT id, user_id, title, created_at, updated_at, assigned_agent_id, metadata FROM conversations WHERE user_id = $1 ORDER BY created_at ASC`
	if err := p.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, coorderrors.Wrap(coorderrors.KindCoordination, "list conversations", err)
	}
	out := make([]intent.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToConversation(r))
	}
	return out, nil
}

func (p *Postgres) MostRecentConversation(ctx context.Context, userID string) (intent.Conversation, error) {
	var row conversationRow
	const q = `SELECT id, user_id, title, created_at, updated_at, assigned_agent_id, metadata FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC LIMIT 1`
	if err := p.db.GetContext(ctx, &row, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return intent.Conversation{}, coorderrors.NotFound("conversation", "most-recent:"+userID)
		}
		return intent.Conversation{}, coorderrors.Wrap(coorderrors.KindCoordination, "most recent conversation", err)
	}
	return rowToConversation(row), nil
}

func (p *Postgres) SetAssignedAgent(ctx context.Context, conversationID, agentID string) error {
	const q = `UPDATE conversations SET assigned_agent_id = $1, updated_at = $2 WHERE id = $3`
	res, err := p.db.ExecContext(ctx, q, agentID, time.Now().UTC(), conversationID)
	if err != nil {
		return coorderrors.Wrap(coorderrors.KindCoordination, "set assigned agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coorderrors.NotFound("conversation", conversationID)
	}
	return nil
}

func (p *Postgres) CreateMessage(ctx context.Context, msg intent.ChatMessage) (intent.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return intent.ChatMessage{}, coorderrors.Validation("message metadata not serializable: %v", err)
	}
	const q = `INSERT INTO chat_messages (id, conversation_id, content, sender, agent_category, timestamp, thread_id, parent_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = p.db.ExecContext(ctx, q, msg.ID, msg.ConversationID, msg.Content, string(msg.Sender),
		string(msg.AgentCategory), msg.Timestamp, msg.ThreadID, msg.ParentID, meta)
	if err != nil {
		return intent.ChatMessage{}, coorderrors.Wrap(coorderrors.KindCoordination, "create message", err)
	}
	const touch = `UPDATE conversations SET updated_at = $1 WHERE id = $2`
	if _, err := p.db.ExecContext(ctx, touch, msg.Timestamp, msg.ConversationID); err != nil {
		return intent.ChatMessage{}, coorderrors.Wrap(coorderrors.KindCoordination, "touch conversation", err)
	}
	return msg, nil
}

// ListMessagesByConversation selects strictly by conversation_id equality
// (the WHERE clause is the enforcement point for spec.md §3's isolation
// invariant) ordered by timestamp, most recent limit rows.
func (p *Postgres) ListMessagesByConversation(ctx context.Context, conversationID string, limit int) ([]intent.ChatMessage, error) {
	var rows []messageRow
	const baseCols = `id, conversation_id, content, sender, agent_category, timestamp, thread_id, parent_id, metadata`
	q := `SELECT ` + baseCols + ` FROM chat_messages WHERE conversation_id = $1 ORDER BY timestamp ASC`
	args := []any{conversationID}
	if limit > 0 {
		q = `SELECT ` + baseCols + ` FROM (
			SELECT ` + baseCols + ` FROM chat_messages WHERE conversation_id = $1 ORDER BY timestamp DESC LIMIT $2
		) recent ORDER BY timestamp ASC`
		args = append(args, limit)
	}
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, coorderrors.Wrap(coorderrors.KindCoordination, "list messages", err)
	}
	out := make([]intent.ChatMessage, 0, len(rows))
	for _, r := range rows {
		if r.ConversationID != conversationID {
			// Defense in depth for the contamination invariant even though the
			// query already filters on this column.
			continue
		}
		var meta map[string]any
		_ = json.Unmarshal(r.Metadata, &meta)
		out = append(out, intent.ChatMessage{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Content:        r.Content,
			Sender:         intent.Sender(r.Sender),
			AgentCategory:  registry.Category(r.AgentCategory),
			Timestamp:      r.Timestamp,
			ThreadID:       r.ThreadID,
			ParentID:       r.ParentID,
			Metadata:       meta,
		})
	}
	return out, nil
}

func rowToConversation(r conversationRow) intent.Conversation {
	var meta map[string]any
	_ = json.Unmarshal(r.Metadata, &meta)
	return intent.Conversation{
		ID:              r.ID,
		UserID:          r.UserID,
		Title:           r.Title,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Metadata:        meta,
		AssignedAgentID: r.AssignedAgentID,
	}
}
