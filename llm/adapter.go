package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// ModelAdapter adapts a langchaingo llms.Model into the Client interface,
// so agent-mode rollouts can reuse any model langchaingo supports.
type ModelAdapter struct {
	model llms.Model
}

var _ Client = (*ModelAdapter)(nil)

// NewModelAdapter creates an adapter around a langchaingo model
func NewModelAdapter(model llms.Model) *ModelAdapter {
	return &ModelAdapter{model: model}
}

// Chat converts the conversation to langchaingo message content and
// returns the first choice of the generated response.
func (a *ModelAdapter) Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	options := CallOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(toChatMessageType(m.Role), m.Content))
	}

	var callOpts []llms.CallOption
	if options.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(float64(*options.Temperature)))
	}
	if options.MaxTokens != nil {
		callOpts = append(callOpts, llms.WithMaxTokens(*options.MaxTokens))
	}

	response, err := a.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("empty choices in model response")
	}
	return response.Choices[0].Content, nil
}

func toChatMessageType(role string) schema.ChatMessageType {
	switch role {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	case RoleTool:
		return schema.ChatMessageType("tool")
	default:
		return schema.ChatMessageTypeHuman
	}
}
