package experience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotStore persists the experience pool produced after each training
// step so a run can resume with the pool it last distilled.
type SnapshotStore interface {
	// SaveSnapshot stores the pool produced by the given step
	SaveSnapshot(ctx context.Context, step int, experiences *Store) error
	// LoadSnapshot returns the pool for a step, or (nil, nil) when the
	// step has no snapshot.
	LoadSnapshot(ctx context.Context, step int) (*Store, error)
	// LatestStep returns the highest step with a snapshot, or -1 when
	// none exist.
	LatestStep(ctx context.Context) (int, error)
}

// FileSnapshotStore keeps one experiences.json per step directory under a
// base path, alongside the step's rollout and stage-cache files.
type FileSnapshotStore struct {
	baseDir string
}

// NewFileSnapshotStore creates a file-backed snapshot store rooted at dir
func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileSnapshotStore{baseDir: dir}, nil
}

func (s *FileSnapshotStore) stepPath(step int) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("step_%d", step), "experiences.json")
}

// SaveSnapshot writes the pool as indented JSON into the step directory
func (s *FileSnapshotStore) SaveSnapshot(_ context.Context, step int, experiences *Store) error {
	path := s.stepPath(step)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create step dir: %w", err)
	}
	data, err := json.MarshalIndent(experiences, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the pool for a step
func (s *FileSnapshotStore) LoadSnapshot(_ context.Context, step int) (*Store, error) {
	data, err := os.ReadFile(s.stepPath(step))
	if errors.Is(err, os.ErrNotExist) {
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

// LatestStep scans the step directories for the highest snapshotted step
func (s *FileSnapshotStore) LatestStep(_ context.Context) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("scan snapshot dir: %w", err)
	}
	latest := -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var step int
		if _, err := fmt.Sscanf(entry.Name(), "step_%d", &step); err != nil {
			continue
		}
		if _, err := os.Stat(s.stepPath(step)); err != nil {
			continue
		}
		if step > latest {
			latest = step
		}
	}
	return latest, nil
}
