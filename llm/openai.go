package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/thesevenths/agent-dev/log"
)

// OpenAIConfig configures an OpenAI-compatible chat endpoint
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	// MaxRetries bounds transport-level retries inside one Chat call
	MaxRetries int
	// RetryDelay is slept between failed attempts
	RetryDelay time.Duration
}

// DefaultOpenAIConfig returns a default client configuration
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:      openai.GPT4oMini,
		MaxTokens:  16384,
		MaxRetries: 3,
		RetryDelay: 10 * time.Second,
	}
}

// chatCompleter is the slice of the go-openai client the OpenAIClient
// needs; narrowed to an interface so tests can substitute a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client on top of sashabaranov/go-openai
type OpenAIClient struct {
	api    chatCompleter
	config OpenAIConfig
	logger log.Logger
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAIClient{
		api:    openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: log.GetDefaultLogger(),
	}
}

// SetLogger overrides the logger used for retry warnings
func (c *OpenAIClient) SetLogger(logger log.Logger) {
	c.logger = logger
}

// Chat issues one chat completion with bounded retries. Every transport
// or API error is retried up to MaxRetries times with a fixed delay; the
// last error is returned when all attempts fail.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	options := CallOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	temperature := c.config.Temperature
	if options.Temperature != nil {
		temperature = *options.Temperature
	}
	maxTokens := c.config.MaxTokens
	if options.MaxTokens != nil {
		maxTokens = *options.MaxTokens
	}

	request := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	attempts := c.config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		response, err := c.api.CreateChatCompletion(ctx, request)
		if err == nil {
			if len(response.Choices) == 0 {
				err = fmt.Errorf("empty choices in completion response")
			} else {
				return strings.TrimSpace(response.Choices[0].Message.Content), nil
			}
		}
		lastErr = err
		c.logger.Warn("chat completion attempt %d/%d failed: %v", attempt, attempts, err)

		if attempt < attempts {
			select {
			case <-time.After(c.config.RetryDelay):
			case <-ctx.Done():
				return "", fmt.Errorf("chat cancelled during retry delay: %w", ctx.Err())
			}
		}
	}

	return "", fmt.Errorf("chat completion failed after %d attempts: %w", attempts, lastErr)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return converted
}
