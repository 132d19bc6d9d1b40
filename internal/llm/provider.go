// Package llm wraps OpenAI-compatible chat completion endpoints behind a
// small Client interface with typed errors, retries and model routing.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxTokens is used when GenerateOptions.MaxTokens is unset.
const DefaultMaxTokens = 4096

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions tune a single completion call.
type GenerateOptions struct {
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client generates text from a prompt or a message history.
type Client interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	GenerateMessages(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)
}

// BuildMessages turns a prompt and optional system text into a message list.
func BuildMessages(prompt string, opts GenerateOptions) []Message {
	msgs := make([]Message, 0, 2)
	if strings.TrimSpace(opts.System) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: opts.System})
	}
	return append(msgs, Message{Role: RoleUser, Content: prompt})
}

// ValidateMessages rejects empty histories and unknown roles.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return &ProviderError{Kind: ErrInvalidRequest, Err: fmt.Errorf("messages must not be empty")}
	}
	for i, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return &ProviderError{Kind: ErrInvalidRequest, Err: fmt.Errorf("message %d: invalid role %q", i, m.Role)}
		}
	}
	return nil
}

func (o GenerateOptions) maxTokens() int {
	if o.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return o.MaxTokens
}
