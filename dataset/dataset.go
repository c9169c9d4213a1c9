// Package dataset loads training and evaluation problem sets from local
// JSON or JSONL files. Every row carries a problem, its reference answer,
// and any extra columns the source file had.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// Row is one dataset example
type Row struct {
	Problem     string
	GroundTruth string
	// Meta holds extra source columns (id, level, root_url, ...)
	Meta map[string]any
}

// UnmarshalJSON splits the known columns from the extras
func (r *Row) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["problem"]; ok {
		if err := json.Unmarshal(v, &r.Problem); err != nil {
			return fmt.Errorf("decode problem: %w", err)
		}
		delete(raw, "problem")
	}
	if v, ok := raw["groundtruth"]; ok {
		if err := json.Unmarshal(v, &r.GroundTruth); err != nil {
			return fmt.Errorf("decode groundtruth: %w", err)
		}
		delete(raw, "groundtruth")
	}
	if len(raw) > 0 {
		r.Meta = make(map[string]any, len(raw))
		for key, v := range raw {
			var value any
			if err := json.Unmarshal(v, &value); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			r.Meta[key] = value
		}
	}
	return nil
}

// MarshalJSON writes the row back as a flat object
func (r Row) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Meta)+2)
	for key, value := range r.Meta {
		flat[key] = value
	}
	flat["problem"] = r.Problem
	flat["groundtruth"] = r.GroundTruth
	return json.Marshal(flat)
}

// Validate checks the row has the two required columns
func (r Row) Validate() error {
	if strings.TrimSpace(r.Problem) == "" {
		return fmt.Errorf("row has no problem")
	}
	if strings.TrimSpace(r.GroundTruth) == "" {
		return fmt.Errorf("row has no groundtruth")
	}
	return nil
}

// Load reads a dataset from a .json array file or a .jsonl file and
// validates every row.
func Load(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	var rows []Row
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.NewDecoder(file).Decode(&rows); err != nil {
			return nil, fmt.Errorf("decode dataset %s: %w", path, err)
		}
	case ".jsonl":
		decoder := json.NewDecoder(file)
		for {
			var row Row
			if err := decoder.Decode(&row); err == io.EOF {
				break
			} else if err != nil {
				return nil, fmt.Errorf("decode dataset %s line %d: %w", path, len(rows)+1, err)
			}
			rows = append(rows, row)
		}
	default:
		return nil, fmt.Errorf("unsupported dataset format %q, want .json or .jsonl", filepath.Ext(path))
	}

	for i, row := range rows {
		if err := row.Validate(); err != nil {
			return nil, fmt.Errorf("dataset %s row %d: %w", path, i, err)
		}
	}
	return rows, nil
}

// Truncate returns the first n rows, or all of them when n <= 0 or
// exceeds the dataset.
func Truncate(rows []Row, n int) []Row {
	if n <= 0 || n >= len(rows) {
		return rows
	}
	return rows[:n]
}

// Sample draws n rows without replacement using a seeded generator, so
// the same seed always yields the same subset in the same order.
func Sample(rows []Row, n int, seed int64) []Row {
	if n >= len(rows) {
		return append([]Row(nil), rows...)
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(rows))
	sampled := make([]Row, n)
	for i := 0; i < n; i++ {
		sampled[i] = rows[perm[i]]
	}
	return sampled
}

// Shuffle returns a seeded permutation of the rows
func Shuffle(rows []Row, seed int64) []Row {
	shuffled := append([]Row(nil), rows...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// SaveJSONL writes rows one JSON object per line
func SaveJSONL(rows []Row, path string) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
