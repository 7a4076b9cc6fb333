// Package engine abstracts the chat-completion gateway the agents talk
// through. An Engine is stateless: callers own conversation history and pass
// the full message list on every call.
package engine

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Usage is the token accounting of one gateway call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Engine is a chat-completion gateway.
type Engine interface {
	// ModelName returns the provider model identifier, used for run metadata.
	ModelName() string
	// Chat sends the full message history and returns the model's reply text
	// with token usage.
	Chat(ctx context.Context, messages []Message) (string, Usage, error)
}

// ErrRetriesExhausted wraps the last gateway error once every retry attempt
// has failed.
var ErrRetriesExhausted = errors.New("gateway retries exhausted")
