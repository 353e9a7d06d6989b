// Package agents defines the closed per-category agent handler interface
// that replaces the source system's string-keyed dynamic dispatch
// (hasattr-style method lookup) with a plain Go interface and a small set of
// reference implementations, one per category.
package agents

import (
	"context"

	"github.com/brendan721/flipsync-agents/internal/registry"
)

// Handler is the closed variant every agent category implements. The
// Communication Manager's handler factory becomes a plain type switch /
// interface call instead of a dynamic method lookup.
type Handler interface {
	// Category identifies which of {Market, Executive, Content, Logistics,
	// Assistant} this handler implements.
	Category() registry.Category
	// ExecuteCommand runs a named command with parameters and returns its
	// result map, or an error that the Communication Manager converts into
	// a Response with status=error.
	ExecuteCommand(ctx context.Context, command string, params map[string]any) (map[string]any, error)
	// AnswerQuery answers a free-form query string with optional context.
	AnswerQuery(ctx context.Context, query string, queryCtx map[string]any) (map[string]any, error)
	// ProcessMessage handles a conversational turn and returns reply text,
	// used by the intent router's direct-agent-routing path.
	ProcessMessage(ctx context.Context, text string, handoffContext map[string]any) (string, error)
}
