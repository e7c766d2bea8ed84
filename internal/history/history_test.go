package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "history.db")
	db, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestSaveAndRecent(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.Save(ctx, Run{
			JobID:     id,
			Kind:      "convert",
			State:     "succeeded",
			Input:     id + ".mp4",
			Output:    "/tmp/" + id,
			Frames:    i * 10,
			StartedAt: base.Add(time.Duration(i) * 500 * time.Millisecond),
			Duration:  1500 * time.Millisecond,
		}))
	}

	runs, err := db.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "c", runs[0].JobID)
	require.Equal(t, "b", runs[1].JobID)
	require.Equal(t, 20, runs[0].Frames)
	require.Equal(t, 1500*time.Millisecond, runs[0].Duration)
	require.True(t, base.Add(time.Second).Equal(runs[0].StartedAt))
	require.Empty(t, runs[0].Error)
}

func TestSaveReplaces(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()

	run := Run{JobID: "x", Kind: "export", State: "running", StartedAt: time.Now()}
	require.NoError(t, db.Save(ctx, run))

	run.State = "failed"
	run.Error = "create archive: permission denied"
	require.NoError(t, db.Save(ctx, run))

	runs, err := db.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "failed", runs[0].State)
	require.Equal(t, "create archive: permission denied", runs[0].Error)
}

func TestReopenKeepsRuns(t *testing.T) {
	db, path := openTest(t)
	require.NoError(t, db.Save(context.Background(), Run{JobID: "keep", Kind: "convert", State: "succeeded", StartedAt: time.Now()}))
	require.NoError(t, db.Close())

	again, err := Open(path, nil)
	require.NoError(t, err)
	defer again.Close()

	runs, err := again.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "keep", runs[0].JobID)
}

func TestRecentEmpty(t *testing.T) {
	db, _ := openTest(t)

	runs, err := db.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, runs)
	require.Empty(t, runs)
}
