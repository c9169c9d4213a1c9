package rollout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesevenths/agent-dev/log"
)

func quietConfig() PoolConfig {
	config := DefaultPoolConfig()
	config.Logger = &log.NoOpLogger{}
	config.TaskTimeout = 5 * time.Second
	return config
}

func exactMatchVerify(_ context.Context, record *Record, groundtruth string) float64 {
	if record.Response == groundtruth {
		return 1.0
	}
	return 0.0
}

func makeBatch(problems ...string) []*Record {
	records := make([]*Record, len(problems))
	for i, problem := range problems {
		records[i] = &Record{
			RunID:       i,
			Problem:     problem,
			GroundTruth: "4",
			Prompt:      problem,
		}
	}
	return records
}

func TestPool_AllSucceed(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, prompt string) (*Result, error) {
		return &Result{
			FinalOutput: "4",
			Trajectories: []Trajectory{{Trajectory: []Step{
				{"role": "user", "content": prompt},
				{"role": "assistant", "content": "4"},
			}}},
		}, nil
	})

	pool := NewPool(runner, exactMatchVerify, nil, quietConfig())
	records := makeBatch("2+2", "3+1", "5-1")

	stats, err := pool.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
	assert.InDelta(t, 1.0, stats.MeanReward, 1e-9)
	for _, record := range records {
		assert.False(t, record.Pending())
		assert.InDelta(t, 1.0, record.Reward, 1e-9)
	}
}

func TestPool_RetryThenSucceed(t *testing.T) {
	// Scenario from the design: grpo_n=2, concurrency=1, runner that
	// succeeds, then fails once transiently, then succeeds on retry.
	var calls atomic.Int32
	runner := RunnerFunc(func(_ context.Context, prompt string) (*Result, error) {
		switch calls.Add(1) {
		case 2:
			return nil, errors.New("transient upstream error")
		default:
			return &Result{
				FinalOutput:  "4",
				Trajectories: []Trajectory{{Trajectory: []Step{{"role": "assistant", "content": "4"}}}},
			}, nil
		}
	})

	config := quietConfig()
	config.Concurrency = 1
	pool := NewPool(runner, exactMatchVerify, nil, config)
	records := makeBatch("2+2", "2+2")

	_, err := pool.Run(context.Background(), records)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, records[0].Reward, 1e-9)
	assert.InDelta(t, 1.0, records[1].Reward, 1e-9)
	assert.Equal(t, 0, records[0].RetryCount)
	assert.Equal(t, 1, records[1].RetryCount)
}

func TestPool_PermanentFailureAfterRetries(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, _ string) (*Result, error) {
		return nil, errors.New("always broken")
	})

	config := quietConfig()
	config.MaxRetries = 2
	pool := NewPool(runner, exactMatchVerify, nil, config)
	records := makeBatch("2+2")

	stats, err := pool.Run(context.Background(), records)
	require.NoError(t, err)

	record := records[0]
	assert.Equal(t, 1, stats.Failed)
	assert.LessOrEqual(t, record.RetryCount, config.MaxRetries+1)
	assert.Equal(t, 0.0, record.Reward)
	assert.NotEmpty(t, record.Error)
	assert.Empty(t, record.Trajectories)
	assert.Contains(t, record.Response, "after 2 retries")
}

func TestPool_PoisonTaskDoesNotStallBatch(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, prompt string) (*Result, error) {
		if prompt == "poison" {
			return nil, errors.New("unrecoverable")
		}
		return &Result{
			FinalOutput:  "4",
			Trajectories: []Trajectory{{Trajectory: []Step{{"role": "assistant", "content": "4"}}}},
		}, nil
	})

	config := quietConfig()
	config.MaxRetries = 1
	pool := NewPool(runner, exactMatchVerify, nil, config)
	records := makeBatch("2+2", "poison", "3+1")

	done := make(chan struct{})
	go func() {
		_, _ = pool.Run(context.Background(), records)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch never completed with a poison task present")
	}
	assert.Equal(t, 0.0, records[1].Reward)
	assert.NotEmpty(t, records[1].Error)
}

func TestPool_ConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	runner := RunnerFunc(func(_ context.Context, _ string) (*Result, error) {
		current := inFlight.Add(1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &Result{
			FinalOutput:  "4",
			Trajectories: []Trajectory{{Trajectory: []Step{{"role": "assistant", "content": "4"}}}},
		}, nil
	})

	config := quietConfig()
	config.Concurrency = 3
	pool := NewPool(runner, exactMatchVerify, nil, config)

	problems := make([]string, 12)
	for i := range problems {
		problems[i] = fmt.Sprintf("p%d", i)
	}
	_, err := pool.Run(context.Background(), makeBatch(problems...))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3), "no more than Concurrency tasks may execute at once")
}

func TestPool_TimeoutTreatedAsFailure(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, _ string) (*Result, error) {
		select {
		case <-time.After(time.Second):
			return &Result{FinalOutput: "late"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	config := quietConfig()
	config.TaskTimeout = 20 * time.Millisecond
	config.MaxRetries = 1
	pool := NewPool(runner, exactMatchVerify, nil, config)
	records := makeBatch("2+2")

	_, err := pool.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 0.0, records[0].Reward)
	assert.NotEmpty(t, records[0].Error)
}

func TestPool_CancellationUnblocksRun(t *testing.T) {
	// one worker, three records: the first attempt blocks until the
	// context is cancelled, the other two records are never dequeued
	runner := RunnerFunc(func(ctx context.Context, _ string) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	config := quietConfig()
	config.Concurrency = 1
	pool := NewPool(runner, exactMatchVerify, nil, config)
	records := makeBatch("2+2", "3+1", "5-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := pool.Run(ctx, records)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestPool_IdempotentResume(t *testing.T) {
	// A record that already has trajectories must not be re-executed.
	var calls atomic.Int32
	runner := RunnerFunc(func(_ context.Context, _ string) (*Result, error) {
		calls.Add(1)
		return &Result{
			FinalOutput:  "4",
			Trajectories: []Trajectory{{Trajectory: []Step{{"role": "assistant", "content": "4"}}}},
		}, nil
	})

	records := makeBatch("2+2", "3+1")
	records[0].Response = "4"
	records[0].Reward = 1.0
	records[0].Trajectories = []Trajectory{{Trajectory: []Step{{"role": "assistant", "content": "4"}}}}

	pool := NewPool(runner, exactMatchVerify, nil, quietConfig())
	stats, err := pool.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load(), "completed record must be left untouched")
	assert.Equal(t, 2, stats.Completed)
}

func TestPool_PersistsOnEveryCompletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout.jsonl")

	var mu sync.Mutex
	saves := 0
	persist := func(records []*Record) error {
		mu.Lock()
		saves++
		mu.Unlock()
		return Save(records, path)
	}

	runner := RunnerFunc(func(_ context.Context, _ string) (*Result, error) {
		return &Result{
			FinalOutput:  "4",
			Trajectories: []Trajectory{{Trajectory: []Step{{"role": "assistant", "content": "4"}}}},
		}, nil
	})

	pool := NewPool(runner, exactMatchVerify, persist, quietConfig())
	records := makeBatch("2+2", "3+1", "5-1")

	_, err := pool.Run(context.Background(), records)
	require.NoError(t, err)

	// one save up front plus one per completed task
	assert.Equal(t, 4, saves)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, record := range loaded {
		assert.Equal(t, i, record.RunID, "persisted order must follow run ids")
		assert.False(t, record.Pending())
	}
}

func TestSummarize_PassAtK(t *testing.T) {
	// 3 problems x 3 attempts with rewards [1,0,0], [0,0,0], [1,1,1]
	rewards := map[string][]float64{
		"a": {1, 0, 0},
		"b": {0, 0, 0},
		"c": {1, 1, 1},
	}
	var records []*Record
	runID := 0
	for problem, scores := range rewards {
		for _, score := range scores {
			records = append(records, &Record{
				RunID:        runID,
				Problem:      problem,
				Reward:       score,
				Trajectories: []Trajectory{{Trajectory: []Step{{"role": "assistant"}}}},
			})
			runID++
		}
	}

	stats := Summarize(records)
	assert.Equal(t, 3, stats.K)
	assert.InDelta(t, 2.0/3.0, stats.PassAtK, 1e-9)
	assert.InDelta(t, 4.0/9.0, stats.MeanReward, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	stats := Summarize(nil)
	assert.Equal(t, Stats{}, stats)
}
