// Package train drives the training loop: per step it rolls out one
// batch of problems with the current experience pool injected, verifies
// and persists the results, distills the rollouts into the next pool,
// and records progress so an interrupted run resumes at the first
// incomplete step.
package train

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/thesevenths/agent-dev/dataset"
	"github.com/thesevenths/agent-dev/experience"
	"github.com/thesevenths/agent-dev/log"
	"github.com/thesevenths/agent-dev/rollout"
)

// ExperienceUpdater distills one step's rollouts into the next pool
type ExperienceUpdater interface {
	Run(ctx context.Context, records []*rollout.Record, experiences *experience.Store, saveDir string) (*experience.Store, error)
}

// Config configures a training run
type Config struct {
	Domain experience.Domain
	// ExperimentName names the run directory; a random one is generated
	// when empty.
	ExperimentName string
	// OutputDir is the root under which <domain>/train/<experiment> lives
	OutputDir string
	Epochs    int
	// BatchSize must divide the dataset evenly
	BatchSize int
	// GRPOn is the number of rollouts per problem in a group
	GRPOn       int
	Concurrency int
	TaskTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	// Seed drives the per-epoch shuffle
	Seed int64
	// ArchivePath enables a SQLite archive of completed rollouts per step
	// when non-empty.
	ArchivePath string
	Logger      log.Logger
}

// DefaultConfig returns the standard training configuration
func DefaultConfig(domain experience.Domain) Config {
	return Config{
		Domain:      domain,
		OutputDir:   "data",
		Epochs:      2,
		BatchSize:   64,
		GRPOn:       5,
		Concurrency: 5,
		TaskTimeout: time.Hour,
		MaxRetries:  3,
		Seed:        42,
		Logger:      log.GetDefaultLogger(),
	}
}

// Loop owns one training run
type Loop struct {
	runner  rollout.Runner
	verify  rollout.VerifyFunc
	updater ExperienceUpdater
	config  Config
}

// NewLoop assembles a training loop
func NewLoop(runner rollout.Runner, verify rollout.VerifyFunc, updater ExperienceUpdater, config Config) *Loop {
	if config.Logger == nil {
		config.Logger = log.GetDefaultLogger()
	}
	if config.ExperimentName == "" {
		config.ExperimentName = "run-" + uuid.NewString()[:8]
	}
	if config.GRPOn < 1 {
		config.GRPOn = 1
	}
	return &Loop{runner: runner, verify: verify, updater: updater, config: config}
}

// ExperimentDir returns the directory holding this run's state
func (l *Loop) ExperimentDir() string {
	return filepath.Join(l.config.OutputDir, string(l.config.Domain), "train", l.config.ExperimentName)
}

// Run trains over the dataset for the configured number of epochs.
// Completed steps found in stats.json are skipped, so rerunning after an
// interruption continues where the previous process stopped.
func (l *Loop) Run(ctx context.Context, data []dataset.Row) error {
	if len(data) == 0 {
		return fmt.Errorf("empty dataset")
	}
	if l.config.BatchSize <= 0 || len(data)%l.config.BatchSize != 0 {
		return fmt.Errorf("dataset size %d is not divisible by batch size %d", len(data), l.config.BatchSize)
	}

	expDir := l.ExperimentDir()
	if err := os.MkdirAll(expDir, 0o755); err != nil {
		return fmt.Errorf("create experiment dir: %w", err)
	}
	snapshots, err := experience.NewFileSnapshotStore(expDir)
	if err != nil {
		return err
	}

	var archive *rollout.SQLiteArchive
	if l.config.ArchivePath != "" {
		archive, err = rollout.OpenSQLiteArchive(l.config.ArchivePath)
		if err != nil {
			return err
		}
		defer archive.Close()
	}

	statsPath := filepath.Join(expDir, "stats.json")
	stats, err := loadStats(statsPath)
	if err != nil {
		return err
	}

	numBatches := len(data) / l.config.BatchSize
	for epoch := 0; epoch < l.config.Epochs; epoch++ {
		l.config.Logger.Info("epoch %d/%d", epoch+1, l.config.Epochs)
		shuffled, err := l.epochData(data, epoch)
		if err != nil {
			return err
		}

		for batch := 0; batch < numBatches; batch++ {
			step := epoch*numBatches + batch
			key := stepKey(step)
			if existing, ok := stats[key]; ok && existing.Complete {
				l.config.Logger.Info("step %d already complete, skipping", step)
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			l.config.Logger.Info("step %d (epoch %d, batch %d)", step, epoch, batch)
			stepStat := &StepStat{Epoch: epoch, Batch: batch}
			stats[key] = stepStat

			batchRows := shuffled[batch*l.config.BatchSize : (batch+1)*l.config.BatchSize]
			records, rolloutStats, err := l.rolloutStep(ctx, step, batchRows, snapshots)
			if err != nil {
				return fmt.Errorf("step %d rollout: %w", step, err)
			}
			stepStat.Rollout = &rolloutStats
			l.config.Logger.Info("\n%s", RenderStats(step, rolloutStats))
			if err := saveStats(statsPath, stats); err != nil {
				return err
			}

			if archive != nil {
				if err := archive.ArchiveStep(ctx, step, records); err != nil {
					return fmt.Errorf("step %d archive: %w", step, err)
				}
			}

			if err := l.distillStep(ctx, step, records, snapshots); err != nil {
				return fmt.Errorf("step %d experience update: %w", step, err)
			}

			stepStat.Complete = true
			if err := saveStats(statsPath, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

// epochData returns this epoch's shuffled dataset, persisting the order
// on first use so a resumed run sees the same batches.
func (l *Loop) epochData(data []dataset.Row, epoch int) ([]dataset.Row, error) {
	epochDir := filepath.Join(l.ExperimentDir(), fmt.Sprintf("epoch_%d", epoch))
	path := filepath.Join(epochDir, "shuffled_data.jsonl")
	if _, err := os.Stat(path); err == nil {
		rows, err := dataset.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load shuffled data: %w", err)
		}
		if len(rows) != len(data) {
			return nil, fmt.Errorf("shuffled data %s has %d rows, dataset has %d", path, len(rows), len(data))
		}
		return rows, nil
	}

	shuffled := dataset.Shuffle(data, l.config.Seed+int64(epoch))
	if err := dataset.SaveJSONL(shuffled, path); err != nil {
		return nil, fmt.Errorf("persist shuffled data: %w", err)
	}
	return shuffled, nil
}

// rolloutStep runs one batch to completion, resuming from any rollouts
// the step directory already holds.
func (l *Loop) rolloutStep(ctx context.Context, step int, rows []dataset.Row, snapshots experience.SnapshotStore) ([]*rollout.Record, rollout.Stats, error) {
	stepDir := filepath.Join(l.ExperimentDir(), stepKey(step))
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return nil, rollout.Stats{}, err
	}

	experiences, err := l.stepExperiences(ctx, step, snapshots)
	if err != nil {
		return nil, rollout.Stats{}, err
	}

	fresh := BuildRecords(l.config.Domain, rows, experiences, l.config.GRPOn)
	rolloutPath := filepath.Join(stepDir, "rollout.jsonl")
	existing, err := rollout.Load(rolloutPath)
	if err != nil {
		return nil, rollout.Stats{}, err
	}
	records, err := rollout.Reconcile(existing, fresh)
	if err != nil {
		return nil, rollout.Stats{}, err
	}

	pool := rollout.NewPool(l.runner, l.verify, func(records []*rollout.Record) error {
		return rollout.Save(records, rolloutPath)
	}, rollout.PoolConfig{
		Concurrency: l.config.Concurrency,
		TaskTimeout: l.config.TaskTimeout,
		MaxRetries:  l.config.MaxRetries,
		RetryDelay:  l.config.RetryDelay,
		Logger:      l.config.Logger,
	})
	stats, err := pool.Run(ctx, records)
	if err != nil {
		return nil, rollout.Stats{}, err
	}
	return records, stats, nil
}

// stepExperiences loads the pool the previous step distilled; step 0
// starts empty.
func (l *Loop) stepExperiences(ctx context.Context, step int, snapshots experience.SnapshotStore) (*experience.Store, error) {
	if step == 0 {
		return experience.NewStore(), nil
	}
	loaded, err := snapshots.LoadSnapshot(ctx, step)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return experience.NewStore(), nil
	}
	return loaded, nil
}

// distillStep runs the experience updater and stores the result for the
// next step, unless that snapshot already exists.
func (l *Loop) distillStep(ctx context.Context, step int, records []*rollout.Record, snapshots experience.SnapshotStore) error {
	next, err := snapshots.LoadSnapshot(ctx, step+1)
	if err != nil {
		return err
	}
	if next != nil {
		l.config.Logger.Info("experiences for step %d already exist, skipping update", step+1)
		return nil
	}

	current, err := l.stepExperiences(ctx, step, snapshots)
	if err != nil {
		return err
	}
	stepDir := filepath.Join(l.ExperimentDir(), stepKey(step))
	updated, err := l.updater.Run(ctx, records, current, stepDir)
	if err != nil {
		return err
	}
	l.config.Logger.Info("distilled %d experiences for step %d", updated.Len(), step+1)
	return snapshots.SaveSnapshot(ctx, step+1, updated)
}

// BuildRecords turns dataset rows into pending rollout records, injecting
// the experience pool into the prompt and duplicating the batch n times
// for grouped rollouts. Duplicates are whole-batch, so attempt k of every
// problem sits at offset k*len(rows).
func BuildRecords(domain experience.Domain, rows []dataset.Row, experiences *experience.Store, n int) []*rollout.Record {
	records := make([]*rollout.Record, 0, len(rows)*n)
	for g := 0; g < n; g++ {
		for _, row := range rows {
			prompt := row.Problem
			if experiences != nil && experiences.Len() > 0 {
				prompt = experience.ProblemWithExperiences(domain, row.Problem, experiences)
			}
			records = append(records, &rollout.Record{
				Problem:     row.Problem,
				GroundTruth: row.GroundTruth,
				Prompt:      prompt,
				Meta:        row.Meta,
			})
		}
	}
	return records
}

func stepKey(step int) string {
	return fmt.Sprintf("step_%d", step)
}
