package experience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSnapshotStore keeps experience snapshots in Redis, one key per
// step plus a sorted set indexing which steps exist. Useful when several
// evaluation jobs need to read the pool a trainer is producing.
type RedisSnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a Redis-backed snapshot store
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces all keys, defaults to "grpo"
	Prefix string
	// TTL expires snapshots when positive, zero keeps them forever
	TTL time.Duration
}

// NewRedisSnapshotStore connects to Redis and verifies the connection
func NewRedisSnapshotStore(ctx context.Context, opts RedisOptions) (*RedisSnapshotStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSnapshotStoreWithClient(client, opts), nil
}

// NewRedisSnapshotStoreWithClient wraps an existing client, used by tests
// that run against an embedded server.
func NewRedisSnapshotStoreWithClient(client *redis.Client, opts RedisOptions) *RedisSnapshotStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "grpo"
	}
	return &RedisSnapshotStore{client: client, prefix: prefix, ttl: opts.TTL}
}

func (s *RedisSnapshotStore) stepKey(step int) string {
	return fmt.Sprintf("%s:snapshot:%d", s.prefix, step)
}

func (s *RedisSnapshotStore) indexKey() string {
	return s.prefix + ":steps"
}

// SaveSnapshot stores the pool under the step key and records the step in
// the index.
func (s *RedisSnapshotStore) SaveSnapshot(ctx context.Context, step int, experiences *Store) error {
	data, err := json.Marshal(experiences)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.stepKey(step), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(step), Member: strconv.Itoa(step)})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.indexKey(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the pool for a step, (nil, nil) when absent
func (s *RedisSnapshotStore) LoadSnapshot(ctx context.Context, step int) (*Store, error) {
	data, err := s.client.Get(ctx, s.stepKey(step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	store := NewStore()
	if err := json.Unmarshal(data, store); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return store, nil
}

// LatestStep returns the highest indexed step, -1 when none exist
func (s *RedisSnapshotStore) LatestStep(ctx context.Context) (int, error) {
	members, err := s.client.ZRevRange(ctx, s.indexKey(), 0, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return -1, fmt.Errorf("read snapshot index: %w", err)
	}
	if len(members) == 0 {
		return -1, nil
	}
	step, err := strconv.Atoi(members[0])
	if err != nil {
		return -1, fmt.Errorf("corrupt snapshot index entry %q: %w", members[0], err)
	}
	return step, nil
}

// Close releases the underlying client
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}
