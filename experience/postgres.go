package experience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBPool is the subset of pgxpool.Pool the snapshot store needs, kept
// narrow so tests can substitute a mock.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresSnapshotStore keeps experience snapshots in a Postgres table,
// one row per step with the pool stored as JSONB.
type PostgresSnapshotStore struct {
	pool      DBPool
	tableName string
}

// NewPostgresSnapshotStore connects to Postgres with the given DSN
func NewPostgresSnapshotStore(ctx context.Context, dsn, tableName string) (*PostgresSnapshotStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresSnapshotStoreWithPool(pool, tableName), nil
}

// NewPostgresSnapshotStoreWithPool wraps an existing pool, used by tests
func NewPostgresSnapshotStoreWithPool(pool DBPool, tableName string) *PostgresSnapshotStore {
	if tableName == "" {
		tableName = "experience_snapshots"
	}
	return &PostgresSnapshotStore{pool: pool, tableName: tableName}
}

// InitSchema creates the snapshot table if it does not exist
func (s *PostgresSnapshotStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			step INTEGER PRIMARY KEY,
			experiences JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.tableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the pool for a step
func (s *PostgresSnapshotStore) SaveSnapshot(ctx context.Context, step int, experiences *Store) error {
	data, err := json.Marshal(experiences)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (step, experiences, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (step) DO UPDATE
		SET experiences = EXCLUDED.experiences, updated_at = NOW()`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, step, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the pool for a step, (nil, nil) when absent
func (s *PostgresSnapshotStore) LoadSnapshot(ctx context.Context, step int) (*Store, error) {
	query := fmt.Sprintf("SELECT experiences FROM %s WHERE step = $1", s.tableName)
	var data []byte
	err := s.pool.QueryRow(ctx, query, step).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
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

// LatestStep returns the highest snapshotted step, -1 when none exist
func (s *PostgresSnapshotStore) LatestStep(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(step), -1) FROM %s", s.tableName)
	var step int
	if err := s.pool.QueryRow(ctx, query).Scan(&step); err != nil {
		return -1, fmt.Errorf("read latest step: %w", err)
	}
	return step, nil
}

// Close releases the underlying pool
func (s *PostgresSnapshotStore) Close() {
	s.pool.Close()
}
