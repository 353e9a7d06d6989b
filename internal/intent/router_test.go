package intent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/protocol"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

type memRepo struct {
	mu    sync.Mutex
	convs map[string]Conversation
	msgs  map[string][]ChatMessage
	order []string
}

func newMemRepo() *memRepo {
	return &memRepo{convs: make(map[string]Conversation), msgs: make(map[string][]ChatMessage)}
}

func (r *memRepo) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Conversation{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.convs[c.ID] = c
	r.order = append(r.order, c.ID)
	return c, nil
}

func (r *memRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return Conversation{}, errNotFound
	}
	return c, nil
}

func (r *memRepo) ListConversationsByUser(ctx context.Context, userID string) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Conversation
	for _, id := range r.order {
		if r.convs[id].UserID == userID {
			out = append(out, r.convs[id])
		}
	}
	return out, nil
}

func (r *memRepo) MostRecentConversation(ctx context.Context, userID string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.convs[r.order[i]]
		if c.UserID == userID {
			return c, nil
		}
	}
	return Conversation{}, errNotFound
}

func (r *memRepo) SetAssignedAgent(ctx context.Context, conversationID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[conversationID]
	if !ok {
		return errNotFound
	}
	c.AssignedAgentID = agentID
	r.convs[conversationID] = c
	return nil
}

func (r *memRepo) CreateMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = uuid.NewString()
	r.msgs[msg.ConversationID] = append(r.msgs[msg.ConversationID], msg)
	return msg, nil
}

func (r *memRepo) ListMessagesByConversation(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.msgs[conversationID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]ChatMessage, len(all))
	copy(out, all)
	return out, nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var errNotFound error = notFoundError{}

type fakeCaller struct {
	reply string
}

func (f *fakeCaller) Call(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	resp := protocol.NewResponse(msg.ReceiverID, msg, "success", map[string]any{"content": f.reply}, nil, 0)
	return resp, nil
}

type fakeWorkflow struct {
	mu        sync.Mutex
	created   []string
	executed  []string
	execOK    bool
	execDelay time.Duration
}

func (f *fakeWorkflow) CreateFromTemplate(templateID, newID string, overrides map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, templateID)
	return nil
}

func (f *fakeWorkflow) Execute(ctx context.Context, pipelineID string, input map[string]any, executionID string) (bool, map[string]any) {
	if f.execDelay > 0 {
		time.Sleep(f.execDelay)
	}
	f.mu.Lock()
	f.executed = append(f.executed, pipelineID)
	f.mu.Unlock()
	return f.execOK, map[string]any{"done": true}
}

type fakeRealtime struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeRealtime) SendTyping(conversationID string, isTyping bool, agentType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "typing")
	return 1
}

func (f *fakeRealtime) SendMessage(conversationID string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "message")
	return 1
}

func newTestRegistry() *registry.Registry {
	reg := registry.New(bus.New(nil), nil, time.Minute)
	reg.Register(registry.Agent{ID: "market-1", Category: registry.CategoryMarket, Status: registry.StatusActive})
	reg.Register(registry.Agent{ID: "util-1", Category: registry.CategoryUtility, Status: registry.StatusActive})
	return reg
}

func TestHandleMessageRoutesMarketQueryToMarketAgent(t *testing.T) {
	repo := newMemRepo()
	reg := newTestRegistry()
	caller := &fakeCaller{reply: "bitcoin is at $65000"}
	wf := &fakeWorkflow{execOK: true}
	rt := &fakeRealtime{}
	orch := New(repo, reg, noopLoader{}, caller, wf, rt, nil)

	reply, err := orch.HandleMessage(context.Background(), "user-1", uuid.NewString(), "what is the current market price and pricing trend for bitcoin", nil)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.RoutedIntent != IntentMarketQuery {
		t.Fatalf("expected market_query, got %s (confidence %.2f)", reply.RoutedIntent, reply.Confidence)
	}
	if reply.Message.Content != "bitcoin is at $65000" {
		t.Fatalf("unexpected reply content: %q", reply.Message.Content)
	}
}

func TestHandleMessageMainSentinelResolvesMostRecentConversation(t *testing.T) {
	repo := newMemRepo()
	reg := newTestRegistry()
	caller := &fakeCaller{reply: "ok"}
	wf := &fakeWorkflow{execOK: true}
	rt := &fakeRealtime{}
	orch := New(repo, reg, noopLoader{}, caller, wf, rt, nil)

	first, err := orch.HandleMessage(context.Background(), "user-2", "main", "check inventory levels", nil)
	if err != nil {
		t.Fatalf("first HandleMessage: %v", err)
	}
	firstConv := first.Message.ConversationID

	second, err := orch.HandleMessage(context.Background(), "user-2", "main", "any update on stock", nil)
	if err != nil {
		t.Fatalf("second HandleMessage: %v", err)
	}
	if second.Message.ConversationID != firstConv {
		t.Fatalf("expected main sentinel to reuse conversation %s, got %s", firstConv, second.Message.ConversationID)
	}
}

func TestHandleMessageWorkflowTriggerSendsAcknowledgementThenCompletion(t *testing.T) {
	repo := newMemRepo()
	reg := newTestRegistry()
	caller := &fakeCaller{reply: "n/a"}
	wf := &fakeWorkflow{execOK: true}
	rt := &fakeRealtime{}
	orch := New(repo, reg, noopLoader{}, caller, wf, rt, nil)

	convID := uuid.NewString()
	start := time.Now()
	reply, err := orch.HandleMessage(context.Background(), "user-3", convID, "please analyze this product for me", nil)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.WorkflowTriggered != "full_marketplace_cycle" {
		t.Fatalf("expected workflow trigger, got %q", reply.WorkflowTriggered)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("acknowledgement took too long: %v", time.Since(start))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, _ := repo.ListMessagesByConversation(context.Background(), convID, 10)
		// user message, acknowledgement, completion message
		if len(msgs) >= 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("workflow completion message was never persisted")
}

func TestConversationIsolationExcludesContaminatedHistory(t *testing.T) {
	repo := newMemRepo()
	convA, _ := repo.CreateConversation(context.Background(), "user-4", "a")
	convB, _ := repo.CreateConversation(context.Background(), "user-4", "b")
	_, _ = repo.CreateMessage(context.Background(), ChatMessage{ConversationID: convA.ID, Content: "about pricing strategy", Sender: SenderUser})
	// Simulate a contaminated entry: stored under convB.ID in the map but
	// carrying convA's ConversationID field, as a faulty repository might.
	repo.mu.Lock()
	repo.msgs[convB.ID] = append(repo.msgs[convB.ID], ChatMessage{ConversationID: convA.ID, Content: "leaked", Sender: SenderUser})
	repo.mu.Unlock()

	reg := newTestRegistry()
	caller := &fakeCaller{reply: "ok"}
	wf := &fakeWorkflow{execOK: true}
	rt := &fakeRealtime{}
	orch := New(repo, reg, noopLoader{}, caller, wf, rt, nil)

	history, err := orch.loadIsolatedHistory(context.Background(), convB.ID)
	if err != nil {
		t.Fatalf("loadIsolatedHistory: %v", err)
	}
	for _, m := range history {
		if m.ConversationID != convB.ID {
			t.Fatalf("contaminated message leaked into convB history: %+v", m)
		}
	}
}

type noopLoader struct{}

func (noopLoader) ActiveTaskCount(agentID string) int { return 0 }
