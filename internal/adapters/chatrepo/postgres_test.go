package chatrepo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/brendan721/flipsync-agents/internal/intent"
)

func newMockRepo(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewPostgresFromDB(db), mock
}

func TestPostgresCreateConversationExecutesInsert(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(sqlmock.AnyArg(), "u1", "hello", sqlmock.AnyArg(), sqlmock.AnyArg(), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	conv, err := repo.CreateConversation(context.Background(), "u1", "hello")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.UserID != "u1" || conv.Title != "hello" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetConversationNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id = ").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at", "assigned_agent_id", "metadata"}))

	_, err := repo.GetConversation(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestPostgresListMessagesByConversationIsolatesByID(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "conversation_id", "content", "sender", "agent_category", "timestamp", "thread_id", "parent_id", "metadata"}).
		AddRow("m1", "c1", "hi", "user", "", time.Now(), "", "", []byte("{}"))

	mock.ExpectQuery("SELECT (.+) FROM chat_messages WHERE conversation_id = ").
		WithArgs("c1").
		WillReturnRows(rows)

	msgs, err := repo.ListMessagesByConversation(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("ListMessagesByConversation: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ConversationID != "c1" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestPostgresCreateMessageAssignsIDAndTimestamp(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO conversations").WillReturnResult(sqlmock.NewResult(1, 1))
	conv, err := repo.CreateConversation(context.Background(), "u1", "t")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	mock.ExpectExec("INSERT INTO chat_messages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE conversations SET updated_at").WillReturnResult(sqlmock.NewResult(1, 1))

	msg, err := repo.CreateMessage(context.Background(), intent.ChatMessage{
		ConversationID: conv.ID,
		Content:        "hello",
		Sender:         intent.SenderUser,
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID == "" || msg.Timestamp.IsZero() {
		t.Fatalf("expected generated id/timestamp, got %+v", msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
