// Package llm provides the prompt/response boundary used by agent handlers
// that need natural-language generation, plus a deterministic mock and an
// Anthropic-backed implementation.
package llm

import "context"

// Request is a single prompt turn with optional conversational context.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	History      []Turn
}

// Turn is one prior exchange carried as context for a Request.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client generates a text completion for a Request.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
