package agents

import (
	"context"

	"github.com/brendan721/flipsync-agents/internal/adapters/llm"
	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

// ExecutiveAgent is the reference Executive-category handler: it makes the
// go/no-go decisions that front every pipeline template in spec.md §4.G.
type ExecutiveAgent struct{}

func NewExecutiveAgent() *ExecutiveAgent { return &ExecutiveAgent{} }

func (e *ExecutiveAgent) Category() registry.Category { return registry.CategoryExecutive }

func (e *ExecutiveAgent) ExecuteCommand(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	switch command {
	case "decide":
		return map[string]any{"decision": "proceed", "rationale": "within policy thresholds"}, nil
	default:
		return nil, coorderrors.Validation("executive agent has no command %q", command)
	}
}

func (e *ExecutiveAgent) AnswerQuery(ctx context.Context, query string, queryCtx map[string]any) (map[string]any, error) {
	return map[string]any{"answer": "no standing objection"}, nil
}

func (e *ExecutiveAgent) ProcessMessage(ctx context.Context, text string, handoffContext map[string]any) (string, error) {
	return "Reviewing the decision criteria for this request.", nil
}

// ContentAgent is the reference Content-category handler: listing copy and
// creative drafts.
type ContentAgent struct{}

func NewContentAgent() *ContentAgent { return &ContentAgent{} }

func (c *ContentAgent) Category() registry.Category { return registry.CategoryContent }

func (c *ContentAgent) ExecuteCommand(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	switch command {
	case "draft_listing":
		title, _ := params["product"].(string)
		return map[string]any{"title": title, "body": "Generated listing copy."}, nil
	default:
		return nil, coorderrors.Validation("content agent has no command %q", command)
	}
}

func (c *ContentAgent) AnswerQuery(ctx context.Context, query string, queryCtx map[string]any) (map[string]any, error) {
	return map[string]any{"answer": "draft available on request"}, nil
}

func (c *ContentAgent) ProcessMessage(ctx context.Context, text string, handoffContext map[string]any) (string, error) {
	return "I can draft listing copy for that product.", nil
}

// LogisticsAgent is the reference Logistics-category handler: inventory and
// fulfillment coordination.
type LogisticsAgent struct{}

func NewLogisticsAgent() *LogisticsAgent { return &LogisticsAgent{} }

func (l *LogisticsAgent) Category() registry.Category { return registry.CategoryLogistics }

func (l *LogisticsAgent) ExecuteCommand(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	switch command {
	case "sync_inventory":
		return map[string]any{"synced": true}, nil
	default:
		return nil, coorderrors.Validation("logistics agent has no command %q", command)
	}
}

func (l *LogisticsAgent) AnswerQuery(ctx context.Context, query string, queryCtx map[string]any) (map[string]any, error) {
	return map[string]any{"answer": "inventory levels nominal"}, nil
}

func (l *LogisticsAgent) ProcessMessage(ctx context.Context, text string, handoffContext map[string]any) (string, error) {
	return "Looking into fulfillment status now.", nil
}

// AssistantAgent is the reference general-assistant handler used as the
// final fallback category when the intent router cannot route to a more
// specific specialist. Unlike the other reference handlers, its
// ProcessMessage is backed by an LLM client rather than a canned reply,
// since it has no structured domain of its own to fall back on.
type AssistantAgent struct {
	llmCli llm.Client
}

// assistantSystemPrompt grounds the fallback assistant in the platform it is
// answering for, so free-form replies stay on topic even without a
// specialist's structured context.
const assistantSystemPrompt = "You are the general assistant for FlipSync, a multi-agent e-commerce " +
	"operations platform. Answer briefly and, when a request clearly belongs to a specialist " +
	"(market pricing, executive approval, listing content, logistics/fulfillment), say so."

// NewAssistantAgent constructs an AssistantAgent backed by llmCli. Pass
// llm.NewMockClient() for tests and demo runs without API credentials.
func NewAssistantAgent(llmCli llm.Client) *AssistantAgent {
	return &AssistantAgent{llmCli: llmCli}
}

func (a *AssistantAgent) Category() registry.Category { return registry.CategoryUtility }

func (a *AssistantAgent) ExecuteCommand(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func (a *AssistantAgent) AnswerQuery(ctx context.Context, query string, queryCtx map[string]any) (map[string]any, error) {
	return map[string]any{"answer": "let me find the right specialist for that"}, nil
}

func (a *AssistantAgent) ProcessMessage(ctx context.Context, text string, handoffContext map[string]any) (string, error) {
	reply, err := a.llmCli.Complete(ctx, llm.Request{
		SystemPrompt: assistantSystemPrompt,
		UserPrompt:   text,
	})
	if err != nil {
		return "", coorderrors.Wrap(coorderrors.KindCoordination, "assistant agent completion failed", err)
	}
	return reply, nil
}
