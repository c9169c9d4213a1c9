package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/thesevenths/agent-dev/log"
)

// fakeCompleter is a scriptable chatCompleter for testing retry behavior
type fakeCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	content := ""
	if i < len(f.responses) {
		content = f.responses[i]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

func newTestClient(api chatCompleter) *OpenAIClient {
	config := DefaultOpenAIConfig()
	config.RetryDelay = time.Millisecond
	return &OpenAIClient{api: api, config: config, logger: &log.NoOpLogger{}}
}

func TestOpenAIClient_Chat(t *testing.T) {
	client := newTestClient(&fakeCompleter{responses: []string{"  42  "}})

	got, err := client.Chat(context.Background(), Prompt("2+2?"))
	require.NoError(t, err)
	assert.Equal(t, "42", got, "response should be trimmed")
}

func TestOpenAIClient_RetriesTransientError(t *testing.T) {
	fake := &fakeCompleter{
		errs:      []error{errors.New("rate limited"), nil},
		responses: []string{"", "ok"},
	}
	client := newTestClient(fake)

	got, err := client.Chat(context.Background(), Prompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, fake.calls)
}

func TestOpenAIClient_ExhaustsRetries(t *testing.T) {
	boom := errors.New("backend down")
	fake := &fakeCompleter{errs: []error{boom, boom, boom}}
	client := newTestClient(fake)

	_, err := client.Chat(context.Background(), Prompt("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, fake.calls)
}

func TestOpenAIClient_CallOptions(t *testing.T) {
	opts := CallOptions{}
	WithTemperature(0.7)(&opts)
	WithMaxTokens(128)(&opts)

	require.NotNil(t, opts.Temperature)
	require.NotNil(t, opts.MaxTokens)
	assert.InDelta(t, 0.7, float64(*opts.Temperature), 1e-6)
	assert.Equal(t, 128, *opts.MaxTokens)
}

// mockModel is a minimal llms.Model for adapter tests
type mockModel struct {
	response string
	err      error
	prompts  []string
}

func (m *mockModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(messages) > 0 {
		if text, ok := messages[0].Parts[0].(llms.TextContent); ok {
			m.prompts = append(m.prompts, text.Text)
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *mockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.response, m.err
}

func TestModelAdapter_Chat(t *testing.T) {
	model := &mockModel{response: "bonjour"}
	adapter := NewModelAdapter(model)

	got, err := adapter.Chat(context.Background(), SystemUser("be french", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "bonjour", got)
	assert.Equal(t, []string{"be french"}, model.prompts)
}

func TestModelAdapter_Error(t *testing.T) {
	adapter := NewModelAdapter(&mockModel{err: errors.New("no model")})

	_, err := adapter.Chat(context.Background(), Prompt("hello"))
	assert.Error(t, err)
}

func TestPromptHelpers(t *testing.T) {
	messages := Prompt("p")
	require.Len(t, messages, 1)
	assert.Equal(t, RoleUser, messages[0].Role)

	messages = SystemUser("s", "u")
	require.Len(t, messages, 2)
	assert.Equal(t, RoleSystem, messages[0].Role)
	assert.Equal(t, "u", messages[1].Content)
}
