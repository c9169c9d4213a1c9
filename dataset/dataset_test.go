package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_JSONArray(t *testing.T) {
	path := writeFile(t, "data.json", `[
		{"problem": "2+2", "groundtruth": "4"},
		{"problem": "capital of France", "groundtruth": "Paris", "id": 7, "level": 2}
	]`)

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2+2", rows[0].Problem)
	assert.Equal(t, "Paris", rows[1].GroundTruth)
	assert.Equal(t, float64(7), rows[1].Meta["id"])
	assert.Equal(t, float64(2), rows[1].Meta["level"])
}

func TestLoad_JSONL(t *testing.T) {
	path := writeFile(t, "data.jsonl",
		`{"problem": "2+2", "groundtruth": "4"}
{"problem": "3+3", "groundtruth": "6"}
`)

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "6", rows[1].GroundTruth)
}

func TestLoad_RejectsMissingColumns(t *testing.T) {
	path := writeFile(t, "bad.json", `[{"problem": "2+2"}]`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "groundtruth")

	path = writeFile(t, "bad2.json", `[{"groundtruth": "4"}]`)
	_, err = Load(path)
	assert.ErrorContains(t, err, "problem")
}

func TestLoad_RejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "data.parquet", "binary")
	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported dataset format")
}

func TestRow_JSONRoundTrip(t *testing.T) {
	path := writeFile(t, "data.jsonl", `{"problem": "p", "groundtruth": "g", "root_url": "https://example.org"}
`)
	rows, err := Load(path)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "copy.jsonl")
	require.NoError(t, SaveJSONL(rows, out))

	loaded, err := Load(out)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "https://example.org", loaded[0].Meta["root_url"])
}

func TestTruncate(t *testing.T) {
	rows := []Row{{Problem: "a", GroundTruth: "1"}, {Problem: "b", GroundTruth: "2"}, {Problem: "c", GroundTruth: "3"}}

	assert.Len(t, Truncate(rows, 2), 2)
	assert.Len(t, Truncate(rows, 0), 3)
	assert.Len(t, Truncate(rows, 10), 3)
}

func TestSample_Deterministic(t *testing.T) {
	rows := make([]Row, 20)
	for i := range rows {
		rows[i] = Row{Problem: string(rune('a' + i)), GroundTruth: "x"}
	}

	first := Sample(rows, 5, 42)
	second := Sample(rows, 5, 42)
	assert.Equal(t, first, second, "same seed must give the same sample")

	other := Sample(rows, 5, 43)
	assert.NotEqual(t, first, other, "different seeds should differ")
	assert.Len(t, first, 5)
}

func TestShuffle_Deterministic(t *testing.T) {
	rows := make([]Row, 10)
	for i := range rows {
		rows[i] = Row{Problem: string(rune('a' + i)), GroundTruth: "x"}
	}

	first := Shuffle(rows, 42)
	second := Shuffle(rows, 42)
	assert.Equal(t, first, second)
	assert.ElementsMatch(t, rows, first)
	assert.Equal(t, "a", rows[0].Problem, "input must not be mutated")
}
