package rollout

import (
	"context"

	"github.com/thesevenths/agent-dev/llm"
)

// Result is the uniform shape every runner produces: the final answer
// text plus the full message trace(s) of the attempt.
type Result struct {
	FinalOutput  string
	Trajectories []Trajectory
}

// Runner executes one attempt at solving one problem. Implementations
// range from a single chat call to a full multi-step agent run; the pool
// treats them interchangeably.
type Runner interface {
	Run(ctx context.Context, prompt string) (*Result, error)
}

// ChatRunner solves a problem with a single chat completion (prompt mode)
type ChatRunner struct {
	client      llm.Client
	temperature float32
	maxTokens   int
}

var _ Runner = (*ChatRunner)(nil)

// NewChatRunner creates a prompt-mode runner
func NewChatRunner(client llm.Client, temperature float32, maxTokens int) *ChatRunner {
	return &ChatRunner{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Run issues one completion and synthesizes a two-step trajectory from it
func (r *ChatRunner) Run(ctx context.Context, prompt string) (*Result, error) {
	response, err := r.client.Chat(ctx, llm.Prompt(prompt),
		llm.WithTemperature(r.temperature),
		llm.WithMaxTokens(r.maxTokens),
	)
	if err != nil {
		return nil, err
	}
	return &Result{
		FinalOutput: response,
		Trajectories: []Trajectory{
			{Trajectory: []Step{
				{"role": "user", "content": prompt},
				{"role": "assistant", "content": response},
			}},
		},
	}, nil
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, prompt string) (*Result, error)

// Run calls the wrapped function
func (f RunnerFunc) Run(ctx context.Context, prompt string) (*Result, error) {
	return f(ctx, prompt)
}
