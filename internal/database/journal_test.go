package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reddot-watch/newsbatch/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(NewConfig(filepath.Join(t.TempDir(), "journal", "newsbatch.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJournalRecordAndList(t *testing.T) {
	ctx := context.Background()
	j := NewJournal(openTestDB(t))
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.FixedZone("UTC+8", 8*3600))

	first := models.NewRun("run-1", base)
	first.PartitionDate = "2025-03-01"
	first.BatchSize = 3
	first.Added = 2
	first.Merged = 1
	first.Total = 2
	first.FinishedAt = base.Add(time.Second)
	require.NoError(t, j.RecordRun(ctx, first))

	second := models.NewRun("run-2", base.Add(time.Hour))
	second.PartitionDate = "2025-03-01"
	second.Status = models.RunStatusRejected
	second.Error = sql.NullString{String: "malformed batch", Valid: true}
	second.FinishedAt = base.Add(time.Hour)
	require.NoError(t, j.RecordRun(ctx, second))

	runs, err := j.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)
	require.Equal(t, "malformed batch", runs[0].ErrorMessage())
	require.Equal(t, "run-1", runs[1].ID)
	require.Equal(t, 2, runs[1].Added)
	require.True(t, runs[1].StartedAt.Equal(base))

	require.Error(t, j.RecordRun(ctx, first), "run ids are unique")
}

func TestJournalPurge(t *testing.T) {
	ctx := context.Background()
	j := NewJournal(openTestDB(t))
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	for i, age := range []int{1, 5, 40} {
		run := models.NewRun(string(rune('a'+i)), now.AddDate(0, 0, -age))
		run.PartitionDate = "2025-03-01"
		run.FinishedAt = run.StartedAt
		require.NoError(t, j.RecordRun(ctx, run))
	}

	purged, err := j.PurgeRuns(ctx, 30, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	runs, err := j.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	_, err = j.PurgeRuns(ctx, 0, now)
	require.Error(t, err)
}

func TestRollback(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Rollback(context.Background(), 1))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'ingest_runs'`))
	require.Zero(t, count)
}
