package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsbatch/internal/models"
)

// Journal records one row per ingestion run.
type Journal struct {
	db *DB
}

// NewJournal creates a journal backed by db.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

// RecordRun stores the outcome of a run.
func (j *Journal) RecordRun(ctx context.Context, run *models.Run) error {
	row := *run
	row.StartedAt = run.StartedAt.UTC()
	row.FinishedAt = run.FinishedAt.UTC()

	_, err := j.db.NamedExecContext(ctx, `
		INSERT INTO ingest_runs (
			id, partition_date, status, batch_size, added, merged,
			anomalies, quarantined, total, error, started_at, finished_at
		) VALUES (
			:id, :partition_date, :status, :batch_size, :added, :merged,
			:anomalies, :quarantined, :total, :error, :started_at, :finished_at
		)`, &row)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, most recent first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]models.Run, error) {
	runs := []models.Run{}
	err := j.db.SelectContext(ctx, &runs,
		`SELECT * FROM ingest_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return runs, nil
}

// PurgeRuns removes journal rows that started more than retentionDays
// before now. Partitions themselves are never touched.
func (j *Journal) PurgeRuns(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive")
	}

	cutoff := now.UTC().AddDate(0, 0, -retentionDays)

	log.Info().
		Time("cutoff", cutoff).
		Int("retention_days", retentionDays).
		Msg("Purging old runs from ingest_runs")

	result, err := j.db.ExecContext(ctx, "DELETE FROM ingest_runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to execute purge command on ingest_runs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Warn().
			Err(err).
			Msg("Could not get RowsAffected after purging ingest_runs")
		return 0, nil
	}
	return rowsAffected, nil
}
