package train

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thesevenths/agent-dev/dataset"
	"github.com/thesevenths/agent-dev/experience"
	"github.com/thesevenths/agent-dev/log"
	"github.com/thesevenths/agent-dev/rollout"
)

// EvalConfig configures a one-shot evaluation run
type EvalConfig struct {
	Domain experience.Domain
	// PassK duplicates the dataset K times for a Pass@K estimate
	PassK       int
	Concurrency int
	TaskTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Logger      log.Logger
}

// DefaultEvalConfig returns the standard evaluation configuration
func DefaultEvalConfig(domain experience.Domain) EvalConfig {
	return EvalConfig{
		Domain:      domain,
		PassK:       1,
		Concurrency: 5,
		TaskTimeout: time.Hour,
		MaxRetries:  3,
		Logger:      log.GetDefaultLogger(),
	}
}

// Evaluate rolls out the dataset once, optionally with a frozen
// experience pool injected, and returns the aggregate statistics.
// Progress persists to rolloutPath so interrupted evaluations resume.
func Evaluate(ctx context.Context, runner rollout.Runner, verify rollout.VerifyFunc, rows []dataset.Row, experiences *experience.Store, rolloutPath string, config EvalConfig) (rollout.Stats, error) {
	if config.PassK < 1 {
		config.PassK = 1
	}
	if config.Logger == nil {
		config.Logger = log.GetDefaultLogger()
	}
	if err := os.MkdirAll(filepath.Dir(rolloutPath), 0o755); err != nil {
		return rollout.Stats{}, fmt.Errorf("create eval dir: %w", err)
	}

	fresh := BuildRecords(config.Domain, rows, experiences, config.PassK)
	existing, err := rollout.Load(rolloutPath)
	if err != nil {
		return rollout.Stats{}, err
	}
	records, err := rollout.Reconcile(existing, fresh)
	if err != nil {
		return rollout.Stats{}, err
	}

	pool := rollout.NewPool(runner, verify, func(records []*rollout.Record) error {
		return rollout.Save(records, rolloutPath)
	}, rollout.PoolConfig{
		Concurrency: config.Concurrency,
		TaskTimeout: config.TaskTimeout,
		MaxRetries:  config.MaxRetries,
		RetryDelay:  config.RetryDelay,
		Logger:      config.Logger,
	})
	return pool.Run(ctx, records)
}
