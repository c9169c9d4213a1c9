package rollout

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	archive, err := OpenSQLiteArchive(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	return archive
}

func TestSQLiteArchive_RoundTrip(t *testing.T) {
	archive := openTestArchive(t)
	ctx := context.Background()

	records := []*Record{
		{
			RunID:        0,
			Problem:      "2+2",
			GroundTruth:  "4",
			Response:     "4",
			Reward:       1.0,
			Trajectories: []Trajectory{{Trajectory: []Step{{"role": "assistant", "content": "4"}}}},
		},
		{RunID: 1, Problem: "3+3", GroundTruth: "6"}, // still pending, skipped
		{RunID: 2, Problem: "9*9", GroundTruth: "81", Error: "timed out", Response: "Error"},
	}
	require.NoError(t, archive.ArchiveStep(ctx, 7, records))

	loaded, err := archive.LoadStep(ctx, 7)
	require.NoError(t, err)
	require.Len(t, loaded, 2, "pending records are not archived")
	assert.Equal(t, 0, loaded[0].RunID)
	assert.InDelta(t, 1.0, loaded[0].Reward, 1e-9)
	assert.Equal(t, 2, loaded[1].RunID)
	assert.Equal(t, "timed out", loaded[1].Error)
}

func TestSQLiteArchive_UpsertOnResume(t *testing.T) {
	archive := openTestArchive(t)
	ctx := context.Background()

	record := &Record{
		RunID:        0,
		Problem:      "2+2",
		Response:     "5",
		Reward:       0,
		Trajectories: []Trajectory{{Trajectory: []Step{{"role": "assistant", "content": "5"}}}},
	}
	require.NoError(t, archive.ArchiveStep(ctx, 1, []*Record{record}))

	record.Response = "4"
	record.Reward = 1.0
	require.NoError(t, archive.ArchiveStep(ctx, 1, []*Record{record}))

	loaded, err := archive.LoadStep(ctx, 1)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.InDelta(t, 1.0, loaded[0].Reward, 1e-9)
}

func TestSQLiteArchive_EmptyStep(t *testing.T) {
	archive := openTestArchive(t)

	loaded, err := archive.LoadStep(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
