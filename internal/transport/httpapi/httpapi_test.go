package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brendan721/flipsync-agents/internal/adapters/chatrepo"
	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/intent"
	"github.com/brendan721/flipsync-agents/internal/protocol"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

type fakeCaller struct{}

func (fakeCaller) Call(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	return protocol.NewResponse(msg.ReceiverID, msg, "success", map[string]any{"content": "ok"}, nil, 0), nil
}

type fakeWorkflow struct{}

func (fakeWorkflow) CreateFromTemplate(templateID, newExecutionID string, overrides map[string]any) error {
	return nil
}

func (fakeWorkflow) Execute(ctx context.Context, pipelineID string, input map[string]any, executionID string) (bool, map[string]any) {
	return true, map[string]any{}
}

type fakeRealtime struct{}

func (fakeRealtime) SendTyping(conversationID string, isTyping bool, agentType string) int { return 0 }
func (fakeRealtime) SendMessage(conversationID string, payload any) int                    { return 0 }

type noopLoader struct{}

func (noopLoader) ActiveTaskCount(string) int { return 0 }

func newTestServer() *Server {
	repo := chatrepo.NewMemory()
	reg := registry.New(bus.New(nil), nil, time.Minute)
	reg.Register(registry.Agent{ID: "util-1", Category: registry.CategoryUtility, Status: registry.StatusActive})
	orch := intent.New(repo, reg, noopLoader{}, fakeCaller{}, fakeWorkflow{}, fakeRealtime{}, nil)
	return NewServer(repo, orch, nil, nil)
}

func TestCreateConversationAndListMessages(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	createBody, _ := json.Marshal(CreateConversationRequest{Title: "support"})
	resp, err := http.Post(srv.URL+"/api/v1/chat/conversations", "application/json", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var conv intent.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	msgBody, _ := json.Marshal(PostMessageRequest{Text: "hello there"})
	resp, err = http.Post(srv.URL+"/api/v1/chat/conversations/"+conv.ID+"/messages", "application/json", bytes.NewReader(msgBody))
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(srv.URL + "/api/v1/chat/conversations/" + conv.ID + "/messages")
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		var msgs []intent.ChatMessage
		_ = json.NewDecoder(resp.Body).Decode(&msgs)
		resp.Body.Close()
		if len(msgs) >= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected both user message and agent reply to be persisted")
}

func TestServiceDescriptionEndpoint(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/chat")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGetUnknownConversationReturns404(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/chat/conversations/does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
