// Package realtime implements the realtime broadcaster: fan-out of
// workflow/agent/typing/message events to client subscribers, keyed by
// conversation id, user id, workflow id, or the global firehose.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brendan721/flipsync-agents/internal/pipeline"
)

// EventType enumerates the client-visible event kinds streamed over the
// websocket surface (spec.md §6).
type EventType string

const (
	EventMessage           EventType = "message"
	EventTyping            EventType = "typing"
	EventAgentStatus       EventType = "agent_status"
	EventWorkflowUpdate    EventType = "workflow_update"
	EventAgentCoordination EventType = "agent_coordination"
	EventSystemAlert       EventType = "system_alert"
	EventError             EventType = "error"
)

// Event is one message pushed to subscribers, matching the websocket wire
// envelope `{event_type, conversation_id?, timestamp, payload}`.
type Event struct {
	Type           EventType
	ConversationID string
	Timestamp      time.Time
	Payload        any
}

// Subscriber receives every Event matching its subscription key. Send must
// not block the broadcaster for long; a slow or disconnected subscriber is
// reaped lazily by Unsubscribe or a failed Send.
type Subscriber interface {
	Send(ev Event) error
}

type subscription struct {
	id             string
	kind           subKind
	key            string
	sub            Subscriber
}

type subKind int

const (
	byConversation subKind = iota
	byUser
	byWorkflow
	firehose
)

// Broadcaster fans events out to subscribers and tracks rolling send
// latency.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]*subscription

	latencyMu      sync.Mutex
	latencySamples []time.Duration
	latencyHead    int
}

const maxLatencySamples = 1024

// New constructs an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subs:           make(map[string]*subscription),
		latencySamples: make([]time.Duration, 0, maxLatencySamples),
	}
}

// SubscribeConversation registers sub to receive every event sent to conversationID.
func (b *Broadcaster) SubscribeConversation(conversationID string, sub Subscriber) string {
	return b.add(byConversation, conversationID, sub)
}

// SubscribeUser registers sub to receive every event sent to userID.
func (b *Broadcaster) SubscribeUser(userID string, sub Subscriber) string {
	return b.add(byUser, userID, sub)
}

// SubscribeWorkflow registers sub to receive every event sent to workflowID.
func (b *Broadcaster) SubscribeWorkflow(workflowID string, sub Subscriber) string {
	return b.add(byWorkflow, workflowID, sub)
}

// SubscribeFirehose registers sub to receive every broadcast event.
func (b *Broadcaster) SubscribeFirehose(sub Subscriber) string {
	return b.add(firehose, "", sub)
}

func (b *Broadcaster) add(kind subKind, key string, sub Subscriber) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = &subscription{id: id, kind: kind, key: key, sub: sub}
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Idempotent.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Broadcast delivers ev to every firehose subscriber plus every subscriber
// keyed to ev.ConversationID, and returns the recipient count. A subscriber
// whose Send fails is reaped (removed) on the spot.
func (b *Broadcaster) Broadcast(ev Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return b.deliverTo(ev, func(s *subscription) bool {
		return s.kind == firehose || (s.kind == byConversation && ev.ConversationID != "" && s.key == ev.ConversationID)
	})
}

// sendToKeyed delivers ev only to subscribers of the given kind/key plus the firehose.
func (b *Broadcaster) sendToKeyed(ev Event, kind subKind, key string) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return b.deliverTo(ev, func(s *subscription) bool {
		return s.kind == firehose || (s.kind == kind && s.key == key)
	})
}

func (b *Broadcaster) deliverTo(ev Event, match func(*subscription) bool) int {
	b.mu.RLock()
	var targets []*subscription
	for _, s := range b.subs {
		if match(s) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	count := 0
	var dead []string
	for _, s := range targets {
		start := time.Now()
		if err := s.sub.Send(ev); err != nil {
			dead = append(dead, s.id)
			continue
		}
		b.recordLatency(time.Since(start))
		count++
	}
	for _, id := range dead {
		b.Unsubscribe(id)
	}
	return count
}

// SendToConversation delivers ev to every subscriber of conversationID.
func (b *Broadcaster) SendToConversation(conversationID string, ev Event) int {
	ev.ConversationID = conversationID
	return b.sendToKeyed(ev, byConversation, conversationID)
}

// SendTyping emits a typing indicator for conversationID.
func (b *Broadcaster) SendTyping(conversationID string, isTyping bool, agentType string) int {
	return b.SendToConversation(conversationID, Event{
		Type:    EventTyping,
		Payload: map[string]any{"is_typing": isTyping, "agent_type": agentType},
	})
}

// SendMessage emits a message event to conversationID.
func (b *Broadcaster) SendMessage(conversationID string, payload any) int {
	return b.SendToConversation(conversationID, Event{Type: EventMessage, Payload: payload})
}

// BroadcastWorkflowUpdate implements pipeline.Broadcaster: it pushes a
// snapshot to every workflow-id subscriber and the firehose.
func (b *Broadcaster) BroadcastWorkflowUpdate(ctx context.Context, snap pipeline.Snapshot) {
	payload := map[string]any{
		"execution_id":     snap.ExecutionID,
		"pipeline_id":      snap.PipelineID,
		"status":           string(snap.StatusValue),
		"stages_completed": snap.StagesCompleted,
		"stages_failed":    snap.StagesFailed,
		"current_stage":    snap.CurrentStageID,
		"progress":         snap.Progress,
		"result_data":      snap.ResultData,
	}
	b.sendToKeyed(Event{Type: EventWorkflowUpdate, Timestamp: snap.Timestamp, Payload: payload}, byWorkflow, snap.ExecutionID)
}

// BroadcastAgentCoordination emits an agent_coordination progress event.
func (b *Broadcaster) BroadcastAgentCoordination(coordinationID string, agentIDs []string, task string, progress float64, phase string, agentStatuses map[string]string) int {
	return b.sendToKeyed(Event{
		Type: EventAgentCoordination,
		Payload: map[string]any{
			"coordination_id": coordinationID,
			"agents":          agentIDs,
			"task":            task,
			"progress":        progress,
			"phase":           phase,
			"agent_statuses":  agentStatuses,
		},
	}, byWorkflow, coordinationID)
}

func (b *Broadcaster) recordLatency(d time.Duration) {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	if len(b.latencySamples) < maxLatencySamples {
		b.latencySamples = append(b.latencySamples, d)
		return
	}
	b.latencySamples[b.latencyHead] = d
	b.latencyHead = (b.latencyHead + 1) % maxLatencySamples
}

// MeanLatency returns the rolling mean send latency over the last (up to)
// 1024 samples.
func (b *Broadcaster) MeanLatency() time.Duration {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	if len(b.latencySamples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range b.latencySamples {
		total += d
	}
	return total / time.Duration(len(b.latencySamples))
}
