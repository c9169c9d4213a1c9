package llm

import "context"

// Message is a single chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Client issues chat completions. Implementations must be safe for
// concurrent use: the rollout pool and the experience updater share one
// client across workers.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
}

// CallOption overrides per-call generation parameters
type CallOption func(*CallOptions)

// CallOptions holds per-call generation parameters
type CallOptions struct {
	Temperature *float32
	MaxTokens   *int
}

// WithTemperature sets the sampling temperature for one call
func WithTemperature(t float32) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

// WithMaxTokens sets the completion token budget for one call
func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = &n }
}

// Prompt wraps a bare prompt string into a single-message conversation
func Prompt(text string) []Message {
	return []Message{{Role: RoleUser, Content: text}}
}

// SystemUser builds a two-message conversation with a system prompt
func SystemUser(system, user string) []Message {
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
}
