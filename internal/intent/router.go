package intent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/protocol"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

// AgentCaller is the subset of the Communication Manager the orchestrator
// needs: a blocking request/response call to a target agent.
type AgentCaller interface {
	Call(ctx context.Context, msg protocol.Message) (protocol.Message, error)
}

// WorkflowRunner is the subset of the Pipeline Controller the orchestrator
// needs: launching a named template in the background.
type WorkflowRunner interface {
	CreateFromTemplate(templateID, newExecutionID string, overrides map[string]any) error
	Execute(ctx context.Context, pipelineID string, input map[string]any, executionID string) (bool, map[string]any)
}

// Realtime is the subset of the Realtime Broadcaster the orchestrator needs.
type Realtime interface {
	SendTyping(conversationID string, isTyping bool, agentType string) int
	SendMessage(conversationID string, payload any) int
}

// Orchestrator binds the intent classifier, agent registry, communication
// manager, pipeline controller, and chat repository into the
// handle_message pipeline of spec.md §4.I.
type Orchestrator struct {
	repo     ChatRepository
	reg      *registry.Registry
	loader   Loader
	caller   AgentCaller
	workflow WorkflowRunner
	rt       Realtime
	logger   *slog.Logger
}

// New constructs an Orchestrator.
func New(repo ChatRepository, reg *registry.Registry, loader Loader, caller AgentCaller, workflow WorkflowRunner, rt Realtime, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{repo: repo, reg: reg, loader: loader, caller: caller, workflow: workflow, rt: rt, logger: logger}
}

// ResolveConversationID implements the special conversation id rules: the
// "main" sentinel resolves to (or creates) the user's most recent
// conversation; any other non-UUID id is treated as a request to create a
// new conversation titled after the raw id.
func (o *Orchestrator) ResolveConversationID(ctx context.Context, userID, conversationID string) (Conversation, error) {
	if conversationID == "main" {
		conv, err := o.repo.MostRecentConversation(ctx, userID)
		if err == nil {
			return conv, nil
		}
		return o.repo.CreateConversation(ctx, userID, "main")
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return o.repo.CreateConversation(ctx, userID, conversationID)
	}
	return o.repo.GetConversation(ctx, conversationID)
}

// HandleMessage runs the full intent-routing pipeline for one inbound user
// utterance: conversation-isolated history retrieval, classification,
// workflow-trigger detection, agent routing with handoff, response
// generation, persistence, and realtime broadcast.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, conversationID, text string, msgContext map[string]any) (Reply, error) {
	conv, err := o.ResolveConversationID(ctx, userID, conversationID)
	if err != nil {
		return Reply{}, coorderrors.Wrap(coorderrors.KindCoordination, "failed to resolve conversation", err)
	}

	userMsg, err := o.repo.CreateMessage(ctx, ChatMessage{
		ConversationID: conv.ID,
		Content:        text,
		Sender:         SenderUser,
		Timestamp:      time.Now(),
	})
	if err != nil {
		return Reply{}, coorderrors.Wrap(coorderrors.KindCoordination, "failed to persist user message", err)
	}

	history, err := o.loadIsolatedHistory(ctx, conv.ID)
	if err != nil {
		o.logger.WarnContext(ctx, "history retrieval failed", "conversation_id", conv.ID, "error", err)
	}

	if trig, ok := DetectWorkflowTrigger(text); ok {
		return o.launchWorkflow(ctx, conv, userMsg, trig)
	}

	classification := Classify(text, history)
	target, found := SelectAgent(o.reg, o.loader, classification.Intent)
	if !found {
		return o.coordinationFailureReply(ctx, conv)
	}

	handoff, handoffOccurred := DetectHandoff(conv, target, "intent routing", classification.Confidence, history)

	o.rt.SendTyping(conv.ID, true, string(target.Category))
	replyText, err := o.invokeAgent(ctx, target.ID, text, handoff)
	o.rt.SendTyping(conv.ID, false, string(target.Category))
	if err != nil {
		return o.coordinationFailureReply(ctx, conv)
	}

	if handoffOccurred {
		_ = o.repo.SetAssignedAgent(ctx, conv.ID, target.ID)
	}

	agentMsg, err := o.repo.CreateMessage(ctx, ChatMessage{
		ConversationID: conv.ID,
		Content:        replyText,
		Sender:         SenderAgent,
		AgentCategory:  target.Category,
		Timestamp:      time.Now(),
		Metadata: map[string]any{
			"intent":     string(classification.Intent),
			"confidence": classification.Confidence,
			"handoff":    handoffOccurred,
		},
	})
	if err != nil {
		return Reply{}, coorderrors.Wrap(coorderrors.KindCoordination, "failed to persist agent reply", err)
	}

	o.rt.SendMessage(conv.ID, agentMsg)

	return Reply{
		Message:         agentMsg,
		RoutedIntent:    classification.Intent,
		Confidence:      classification.Confidence,
		HandoffOccurred: handoffOccurred,
	}, nil
}

// loadIsolatedHistory retrieves the conversation's recent messages and drops
// (logging) any entry whose stored conversation id differs from conv.ID —
// the contamination check spec.md §3/§8 requires.
func (o *Orchestrator) loadIsolatedHistory(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	msgs, err := o.repo.ListMessagesByConversation(ctx, conversationID, 20)
	if err != nil {
		return nil, err
	}
	clean := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ConversationID != conversationID {
			o.logger.ErrorContext(ctx, "conversation contamination detected",
				"expected_conversation_id", conversationID, "actual_conversation_id", m.ConversationID, "message_id", m.ID)
			continue
		}
		clean = append(clean, m)
	}
	return clean, nil
}

func (o *Orchestrator) invokeAgent(ctx context.Context, agentID, text string, handoff HandoffContext) (string, error) {
	cmd := protocol.NewCommand("chat_orchestrator", agentID, "process_message", map[string]any{
		"text": text,
		"handoff_context": map[string]any{
			"from":   handoff.From,
			"to":     handoff.To,
			"reason": handoff.Reason,
		},
	}, nil, protocol.PriorityNormal)

	resp, err := o.caller.Call(ctx, cmd)
	if err != nil {
		return "", err
	}
	if resp.Status == "error" {
		return "", coorderrors.Coordination(agentID, "agent returned an error response")
	}
	content, _ := resp.Result["content"].(string)
	return content, nil
}

// launchWorkflow sends the immediate acknowledgement, persists it, and
// launches the triggered pipeline template in the background.
func (o *Orchestrator) launchWorkflow(ctx context.Context, conv Conversation, userMsg ChatMessage, trig workflowTrigger) (Reply, error) {
	ackText := AcknowledgementText(trig)
	ackMsg, err := o.repo.CreateMessage(ctx, ChatMessage{
		ConversationID: conv.ID,
		Content:        ackText,
		Sender:         SenderAgent,
		Timestamp:      time.Now(),
		Metadata:       map[string]any{"workflow_triggered": trig.templateID},
	})
	if err != nil {
		return Reply{}, coorderrors.Wrap(coorderrors.KindCoordination, "failed to persist workflow acknowledgement", err)
	}
	o.rt.SendMessage(conv.ID, ackMsg)

	executionID := uuid.NewString()
	go func() {
		bgCtx := context.Background()
		if err := o.workflow.CreateFromTemplate(trig.templateID, executionID, nil); err != nil {
			o.logger.Error("failed to instantiate triggered workflow", "template", trig.templateID, "error", err)
			return
		}
		ok, result := o.workflow.Execute(bgCtx, executionID, map[string]any{"conversation_id": conv.ID}, executionID)
		status := SenderAgent
		finalText := "The analysis is complete."
		if !ok {
			finalText = "I ran into trouble completing that analysis; let me try a different approach."
		}
		finalMsg, err := o.repo.CreateMessage(bgCtx, ChatMessage{
			ConversationID: conv.ID,
			Content:        finalText,
			Sender:         status,
			Timestamp:      time.Now(),
			Metadata:       map[string]any{"workflow_execution_id": executionID, "result": result},
		})
		if err != nil {
			o.logger.Error("failed to persist workflow completion message", "execution_id", executionID, "error", err)
			return
		}
		o.rt.SendMessage(conv.ID, finalMsg)
	}()

	return Reply{Message: ackMsg, WorkflowTriggered: trig.templateID}, nil
}

func (o *Orchestrator) coordinationFailureReply(ctx context.Context, conv Conversation) (Reply, error) {
	msg, err := o.repo.CreateMessage(ctx, ChatMessage{
		ConversationID: conv.ID,
		Content:        "I'm having trouble coordinating the agents right now; let me try a different approach.",
		Sender:         SenderSystem,
		Timestamp:      time.Now(),
	})
	if err != nil {
		return Reply{}, err
	}
	o.rt.SendMessage(conv.ID, msg)
	return Reply{Message: msg}, nil
}
