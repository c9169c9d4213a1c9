package rollout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ErrDatasetMismatch means a persisted batch disagrees with the dataset
// slice being processed. Resuming past it would corrupt run-id alignment,
// so callers must treat it as fatal.
var ErrDatasetMismatch = errors.New("persisted rollouts do not match dataset slice")

// Load reads a batch file, one JSON object per line. A missing file
// yields an empty batch.
func Load(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open rollout file: %w", err)
	}
	defer f.Close()

	var records []*Record
	decoder := json.NewDecoder(f)
	for {
		record := &Record{}
		if err := decoder.Decode(record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode rollout line %d: %w", len(records), err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Save rewrites the full batch, one JSON object per line, ordered by
// RunID. The write goes through a temp file and rename so a crash never
// leaves a torn file behind.
func Save(records []*Record, path string) error {
	ordered := append([]*Record(nil), records...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].RunID < ordered[j].RunID })

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp rollout file: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	for _, record := range ordered {
		if err := encoder.Encode(record); err != nil {
			tmp.Close()
			return fmt.Errorf("encode record runid=%d: %w", record.RunID, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp rollout file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace rollout file: %w", err)
	}
	return nil
}

// Reconcile merges a freshly constructed batch with a previously
// persisted one. With no prior records, fresh records get sequential run
// ids and become the batch. With prior records, the problem sequences
// must match exactly; anything else is a configuration error (dataset or
// shuffle changed between runs), never a silently recovered condition.
func Reconcile(existing, fresh []*Record) ([]*Record, error) {
	if len(existing) == 0 {
		for i, record := range fresh {
			record.RunID = i
		}
		return fresh, nil
	}

	if len(existing) != len(fresh) {
		return nil, fmt.Errorf("%w: have %d persisted records, want %d",
			ErrDatasetMismatch, len(existing), len(fresh))
	}
	for i, record := range existing {
		if record.Problem != fresh[i].Problem {
			return nil, fmt.Errorf("%w: problem at position %d differs", ErrDatasetMismatch, i)
		}
	}
	return existing, nil
}
