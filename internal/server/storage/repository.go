package storage

import (
	"context"
	"fmt"

	"reddot-watch/newsbatch/internal/models"
	"reddot-watch/newsbatch/internal/partition"
)

// NewsRepository defines read access to stored partitions and run history.
type NewsRepository interface {
	ListDates(ctx context.Context) ([]string, error)
	FetchRecords(ctx context.Context, date string) ([]models.Record, error)
	FetchRuns(ctx context.Context, limit int) ([]models.Run, error)
}

// RunLister is the part of the run journal the API reads.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]models.Run, error)
}

// fileRepository implements NewsRepository over a partition directory.
type fileRepository struct {
	store   *partition.FileStore
	journal RunLister
}

// NewRepository creates a repository reading partitions from store. The
// store is switched to read-only so that serving never quarantines a file
// an ingestion run may be about to replace. journal may be nil.
func NewRepository(store *partition.FileStore, journal RunLister) NewsRepository {
	store.ReadOnly = true
	return &fileRepository{store: store, journal: journal}
}

// ListDates returns the stored partition dates, newest first.
func (r *fileRepository) ListDates(ctx context.Context) ([]string, error) {
	return r.store.Dates(ctx)
}

// FetchRecords returns the partition for date in stored order. A partition
// that does not exist yet is empty.
func (r *fileRepository) FetchRecords(ctx context.Context, date string) ([]models.Record, error) {
	p, err := r.store.Load(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load partition: %w", err)
	}
	return p.Records, nil
}

// FetchRuns returns up to limit journal rows, most recent first.
func (r *fileRepository) FetchRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if r.journal == nil {
		return []models.Run{}, nil
	}
	return r.journal.RecentRuns(ctx, limit)
}
