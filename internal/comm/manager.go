// Package comm implements the Communication Manager: it binds the agent
// registry and the event bus into a routed agent-to-agent messaging layer,
// installs a dispatcher per registered agent handler, and drives
// multi-participant workflow coordination.
package comm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brendan721/flipsync-agents/internal/agents"
	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/protocol"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

// WorkflowRecord is the bookkeeping the manager keeps for one coordinated
// multi-agent workflow.
type WorkflowRecord struct {
	WorkflowID    string
	CorrelationID string
	Participants  []string
	Data          map[string]any
	StartedAt     time.Time
	Status        string
	Messages      []protocol.Message
}

// Stats is a point-in-time snapshot of manager activity.
type Stats struct {
	Sent      int64
	Broadcast int64
	Workflows int
}

// Manager binds the registry and bus into a routed messaging layer. Each
// registered agents.Handler gets a bus dispatcher installed that answers
// Command/Query/Update/Alert traffic targeted at its agent id.
type Manager struct {
	mu        sync.Mutex
	handlers  map[string]agents.Handler
	workflows map[string]*WorkflowRecord

	reg    *registry.Registry
	bus    *bus.Bus
	logger *slog.Logger

	sent      int64
	broadcast int64
}

// New constructs a Manager wired to reg for category lookups and b for
// message transport.
func New(reg *registry.Registry, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		handlers:  make(map[string]agents.Handler),
		workflows: make(map[string]*WorkflowRecord),
		reg:       reg,
		bus:       b,
		logger:    logger,
	}
}

// RegisterHandler installs agentID's handler and subscribes its bus
// dispatcher. Call after the agent is registered in the registry.
func (m *Manager) RegisterHandler(agentID string, h agents.Handler) {
	m.mu.Lock()
	m.handlers[agentID] = h
	m.mu.Unlock()

	m.bus.Subscribe(
		bus.And(
			bus.TargetFilter{Targets: []string{agentID}},
			bus.KindFilter{Kinds: []bus.Kind{bus.KindCommand, bus.KindQuery, bus.KindNotification}},
		),
		func(ctx context.Context, ev bus.Event) { m.handleInbound(ctx, agentID, h, ev) },
	)
}

// handleInbound dispatches one bus event to the agent's handler, selecting a
// handler method by event kind per the closed-variant match in spec.md §9
// (no string-keyed dynamic dispatch):
//   - Command "ping" is answered directly with a ping_response, bypassing the
//     handler (registry health checks don't belong to any agent's domain).
//   - Command -> handler.ExecuteCommand, wrapped in a Response.
//   - Query -> handler.AnswerQuery, wrapped in a Response.
//   - Alert (carried as Notification named "alert") -> an "update"
//     Notification acknowledging the alert id, sent back to its source.
//   - Any other Notification (e.g. Update) -> log only.
func (m *Manager) handleInbound(ctx context.Context, agentID string, h agents.Handler, ev bus.Event) {
	if ev.Kind == bus.KindCommand && ev.Name == "ping" {
		_ = m.bus.Publish(ctx, bus.Event{
			Name:          "ping_response",
			Kind:          bus.KindResponse,
			Source:        agentID,
			Target:        ev.Source,
			CorrelationID: ev.CorrelationID,
		})
		return
	}

	switch ev.Kind {
	case bus.KindCommand:
		params, _ := ev.Payload.(map[string]any)
		if ev.Name == "process_message" {
			text, _ := params["text"].(string)
			handoffCtx, _ := params["handoff_context"].(map[string]any)
			reply, err := h.ProcessMessage(ctx, text, handoffCtx)
			m.replyResponse(ctx, agentID, ev, map[string]any{"content": reply}, err)
			return
		}
		result, err := h.ExecuteCommand(ctx, ev.Name, params)
		m.replyResponse(ctx, agentID, ev, result, err)
	case bus.KindQuery:
		params, _ := ev.Payload.(map[string]any)
		result, err := h.AnswerQuery(ctx, ev.Name, params)
		m.replyResponse(ctx, agentID, ev, result, err)
	case bus.KindNotification:
		if ev.Name == "alert" {
			_ = m.bus.Publish(ctx, bus.Event{
				Name:   "update",
				Kind:   bus.KindNotification,
				Source: agentID,
				Target: ev.Source,
				Payload: map[string]any{
					"acknowledged_alert_id": ev.ID,
				},
			})
			return
		}
		m.logger.InfoContext(ctx, "agent received notification", "agent_id", agentID, "event", ev.Name)
	}
}

func (m *Manager) replyResponse(ctx context.Context, agentID string, request bus.Event, result map[string]any, err error) {
	status := "ok"
	var errs []string
	if err != nil {
		status = "error"
		errs = []string{err.Error()}
	}
	_ = m.bus.Publish(ctx, bus.Event{
		Name:          "response",
		Kind:          bus.KindResponse,
		Source:        agentID,
		Target:        request.Source,
		CorrelationID: request.CorrelationID,
		Payload: map[string]any{
			"request_id": request.ID,
			"status":     status,
			"result":     result,
			"errors":     errs,
		},
	})
}

// Send routes a message per protocol.Resolve: target-present messages go
// straight to the bus addressed at that agent; target-absent Alert/Update
// messages fan out via BroadcastToCategory (category supplied through
// msg.Metadata["category"]). Returns false if the message has no
// deliverable route or the target is not registered/active.
func (m *Manager) Send(ctx context.Context, msg protocol.Message) bool {
	route := protocol.Resolve(msg)
	if route.BroadcastByCategory {
		category, _ := msg.Metadata["category"].(string)
		return m.BroadcastToCategory(ctx, msg, registry.Category(category)) > 0
	}
	if !route.Targeted {
		return false
	}

	agent, err := m.reg.Get(route.TargetID)
	if err != nil || !agent.Healthy() {
		return false
	}

	if err := m.bus.Publish(ctx, toEvent(msg)); err != nil {
		return false
	}
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
	return true
}

// BroadcastToCategory publishes one targeted message per agent currently
// registered in category and returns how many were sent.
func (m *Manager) BroadcastToCategory(ctx context.Context, msg protocol.Message, category registry.Category) int {
	count := 0
	for _, agent := range m.reg.FindByType(category) {
		if !agent.Healthy() {
			continue
		}
		targeted := msg
		targeted.ReceiverID = agent.ID
		if err := m.bus.Publish(ctx, toEvent(targeted)); err == nil {
			count++
		}
	}
	m.mu.Lock()
	m.broadcast += int64(count)
	m.mu.Unlock()
	return count
}

// CoordinateWorkflow assigns a fresh correlation id, records the workflow,
// and sends a start_workflow Command to every participant carrying it.
func (m *Manager) CoordinateWorkflow(ctx context.Context, workflowID string, participants []string, data map[string]any) (WorkflowRecord, error) {
	correlationID := uuid.NewString()
	record := &WorkflowRecord{
		WorkflowID:    workflowID,
		CorrelationID: correlationID,
		Participants:  append([]string(nil), participants...),
		Data:          data,
		StartedAt:     time.Now(),
		Status:        "active",
	}

	m.mu.Lock()
	m.workflows[workflowID] = record
	m.mu.Unlock()

	for _, participantID := range participants {
		cmd := protocol.NewCommand("communication_manager", participantID, "start_workflow", data, nil, protocol.PriorityHigh)
		cmd.CorrelationID = correlationID
		if !m.Send(ctx, cmd) {
			m.logger.WarnContext(ctx, "workflow participant unreachable", "workflow_id", workflowID, "participant", participantID)
		}
	}

	return *record, nil
}

// ExecuteStage implements pipeline.Dispatcher: it invokes the target agent's
// command executor directly for an immediate result (spec.md §4.G: "on
// dispatch the stage as a Command ... optionally also directly invoke the
// agent's process_message-style entry point for immediate result").
func (m *Manager) ExecuteStage(ctx context.Context, agentID, stageID string, input map[string]any) (map[string]any, error) {
	m.mu.Lock()
	h, ok := m.handlers[agentID]
	m.mu.Unlock()
	if !ok {
		return nil, coorderrors.Coordination(agentID, "no handler registered for agent")
	}
	return h.ExecuteCommand(ctx, stageID, input)
}

// Call sends msg and blocks until a matching Response (same correlation id)
// arrives on the bus or ctx is done. Used by the intent router's
// agent-routing step, which needs the target agent's reply content
// synchronously rather than fire-and-forget delivery.
func (m *Manager) Call(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}

	replyCh := make(chan bus.Event, 1)
	subID := m.bus.Subscribe(
		bus.And(bus.KindFilter{Kinds: []bus.Kind{bus.KindResponse}}, bus.TargetFilter{Targets: []string{msg.SenderID}}),
		func(_ context.Context, ev bus.Event) {
			if ev.CorrelationID == msg.CorrelationID {
				select {
				case replyCh <- ev:
				default:
				}
			}
		},
	)
	defer m.bus.Unsubscribe(subID)

	if !m.Send(ctx, msg) {
		return protocol.Message{}, coorderrors.Coordination(msg.ReceiverID, "failed to deliver message to agent")
	}

	select {
	case ev := <-replyCh:
		payload, _ := ev.Payload.(map[string]any)
		resp := protocol.NewResponse(ev.Source, msg, stringOr(payload, "status", "ok"), resultOf(payload), errorsOf(payload), 0)
		return resp, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func stringOr(payload map[string]any, key, fallback string) string {
	if payload == nil {
		return fallback
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return fallback
}

func resultOf(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	if r, ok := payload["result"].(map[string]any); ok {
		return r
	}
	return nil
}

func errorsOf(payload map[string]any) []string {
	if payload == nil {
		return nil
	}
	if errs, ok := payload["errors"].([]string); ok {
		return errs
	}
	return nil
}

// Stats returns a snapshot of send/broadcast counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Sent: m.sent, Broadcast: m.broadcast, Workflows: len(m.workflows)}
}

// toEvent projects a protocol envelope onto the bus's flatter Event shape.
// Name and Payload are chosen per kind so the per-agent dispatcher can treat
// Name as the command/query name and Payload as its parameter map, without
// having to unwrap a nested envelope.
func toEvent(msg protocol.Message) bus.Event {
	ev := bus.Event{
		ID:            msg.ID,
		Kind:          messageKindToBusKind(msg.Kind),
		Source:        msg.SenderID,
		Target:        msg.ReceiverID,
		Timestamp:     msg.Timestamp,
		Priority:      msg.Priority.ToBusPriority(),
		CorrelationID: msg.CorrelationID,
	}
	switch msg.Kind {
	case protocol.KindCommand:
		ev.Name = msg.Command
		ev.Payload = msg.Parameters
	case protocol.KindQuery:
		ev.Name = msg.Query
		ev.Payload = msg.Context
	case protocol.KindResponse:
		ev.Name = "response"
		ev.Payload = msg.Result
	default:
		ev.Name = string(msg.Kind)
		ev.Payload = msg.Content
	}
	return ev
}

func messageKindToBusKind(k protocol.Kind) bus.Kind {
	switch k {
	case protocol.KindCommand:
		return bus.KindCommand
	case protocol.KindQuery:
		return bus.KindQuery
	case protocol.KindResponse:
		return bus.KindResponse
	default:
		return bus.KindNotification
	}
}
