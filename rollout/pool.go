package rollout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thesevenths/agent-dev/log"
)

// VerifyFunc scores one completed record against its ground truth
type VerifyFunc func(ctx context.Context, record *Record, groundtruth string) float64

// PersistFunc durably writes the full batch after every task completion
type PersistFunc func(records []*Record) error

// PoolConfig configures the rollout worker pool
type PoolConfig struct {
	// Concurrency is the number of workers pulling from the queue
	Concurrency int
	// TaskTimeout bounds one attempt, not one record's lifetime
	TaskTimeout time.Duration
	// MaxRetries bounds re-queues per record; after that the record is
	// terminal with reward 0
	MaxRetries int
	// RetryDelay is an optional pause before re-queueing a failed record
	RetryDelay time.Duration
	Logger     log.Logger
}

// DefaultPoolConfig returns the default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Concurrency: 5,
		TaskTimeout: time.Hour,
		MaxRetries:  3,
		RetryDelay:  0,
		Logger:      log.GetDefaultLogger(),
	}
}

// Pool executes a batch of records concurrently with bounded parallelism,
// per-attempt timeouts and bounded retries, persisting the full batch on
// every completion.
type Pool struct {
	runner  Runner
	verify  VerifyFunc
	persist PersistFunc
	config  PoolConfig

	// mu serializes result writes and persistence across workers; each
	// RunID slot is owned by exactly one in-flight attempt at a time, so
	// the lock only guards the persist snapshot.
	mu sync.Mutex
}

// NewPool creates a worker pool. persist may be nil when the caller does
// not need incremental durability (tests).
func NewPool(runner Runner, verify VerifyFunc, persist PersistFunc, config PoolConfig) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Logger == nil {
		config.Logger = log.GetDefaultLogger()
	}
	return &Pool{
		runner:  runner,
		verify:  verify,
		persist: persist,
		config:  config,
	}
}

// Run executes every pending record in the batch to a terminal state and
// returns aggregate statistics over the whole batch, pre-existing
// completions included. Records with trajectories are left untouched, so
// resuming a partially completed batch is idempotent.
func (p *Pool) Run(ctx context.Context, records []*Record) (Stats, error) {
	p.mu.Lock()
	err := p.save(records)
	p.mu.Unlock()
	if err != nil {
		return Stats{}, fmt.Errorf("persist batch before rollout: %w", err)
	}

	queue := NewQueue(len(records))
	pending := 0
	for _, record := range records {
		if !record.Pending() {
			continue
		}
		task := record.Clone()
		task.RetryCount = 0
		queue.Put(task)
		pending++
	}
	p.config.Logger.Info("rolling out %d/%d pending records with %d workers",
		pending, len(records), p.config.Concurrency)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var workers sync.WaitGroup
	for i := 0; i < p.config.Concurrency; i++ {
		workers.Add(1)
		go func(name string) {
			defer workers.Done()
			p.worker(workerCtx, name, queue, records)
		}(fmt.Sprintf("worker-%d", i))
	}

	queue.Join(ctx)
	stopWorkers()
	workers.Wait()

	stats := Summarize(records)
	p.config.Logger.Info("rollout complete: avg_reward=%.4f pass@%d=%.4f avg_tool_call=%.2f",
		stats.MeanReward, stats.K, stats.PassAtK, stats.MeanToolCalls)
	return stats, ctx.Err()
}

func (p *Pool) worker(ctx context.Context, name string, queue *Queue, records []*Record) {
	for {
		task, ok := queue.Get(ctx)
		if !ok {
			return
		}
		p.attempt(ctx, name, task, queue, records)
		queue.TaskDone()
	}
}

// attempt runs one execution of one task and either finalizes the record
// slot or re-queues the task for another try.
func (p *Pool) attempt(ctx context.Context, name string, task *Record, queue *Queue, records []*Record) {
	start := time.Now()
	result, err := p.runWithTimeout(ctx, task.Prompt)
	elapsed := time.Since(start).Seconds()

	if err == nil {
		task.Response = result.FinalOutput
		task.Trajectories = result.Trajectories
		task.Error = ""
		task.RolloutTime = elapsed
		task.Reward = p.verify(ctx, task, task.GroundTruth)
		p.commit(task, records)
		return
	}

	task.RetryCount++
	if task.RetryCount <= p.config.MaxRetries && ctx.Err() == nil {
		p.config.Logger.Warn("%s: task runid=%d failed: %v; retrying (%d/%d)",
			name, task.RunID, err, task.RetryCount, p.config.MaxRetries)
		if p.config.RetryDelay > 0 {
			select {
			case <-time.After(p.config.RetryDelay):
			case <-ctx.Done():
			}
		}
		queue.Put(task)
		return
	}

	p.config.Logger.Error("%s: task runid=%d failed permanently after %d retries: %v",
		name, task.RunID, p.config.MaxRetries, err)
	task.Response = fmt.Sprintf("Error: %v after %d retries.", err, p.config.MaxRetries)
	task.Trajectories = nil
	task.Error = err.Error()
	task.Reward = 0
	task.RolloutTime = elapsed
	p.commit(task, records)
}

// commit writes the finished task back into its RunID slot and persists
// the whole batch.
func (p *Pool) commit(task *Record, records []*Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	records[task.RunID] = task
	if err := p.save(records); err != nil {
		p.config.Logger.Error("persist batch after runid=%d: %v", task.RunID, err)
	}
}

// save must be called with mu held
func (p *Pool) save(records []*Record) error {
	if p.persist == nil {
		return nil
	}
	return p.persist(records)
}

// runWithTimeout executes one attempt under the per-task timeout. A
// timeout surfaces as an ordinary error and counts against the retry
// budget like any other failure.
func (p *Pool) runWithTimeout(ctx context.Context, prompt string) (*Result, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	resultChan := make(chan outcome, 1)

	go func() {
		result, err := p.runner.Run(timeoutCtx, prompt)
		resultChan <- outcome{result: result, err: err}
	}()

	select {
	case out := <-resultChan:
		return out.result, out.err
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("task timed out after %v: %w", p.config.TaskTimeout, timeoutCtx.Err())
	}
}
