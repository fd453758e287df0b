// Package chat generates assistant replies through an LLM chat
// completions API.
package chat

import (
	"context"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat completion conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Params tune a single completion request. Zero values fall back to the
// client defaults.
type Params struct {
	Temperature    float64
	MaxTokens      int
	ResponseFormat any // provider wire shape, set by structured helpers
}

// Client generates chat completions.
type Client interface {
	// Complete runs a completion with the client's default parameters.
	Complete(ctx context.Context, messages []Message) (string, error)
	// CompleteWith runs a completion with per-request parameters.
	CompleteWith(ctx context.Context, messages []Message, p Params) (string, error)
}
