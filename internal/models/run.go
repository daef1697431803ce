package models

import (
	"database/sql"
	"time"
)

// Run statuses recorded in the journal.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusRejected  = "rejected" // batch was malformed, no partition touched
)

// Run represents a row in the 'ingest_runs' table
type Run struct {
	ID            string         `db:"id" json:"id"`
	PartitionDate string         `db:"partition_date" json:"partition_date"`
	Status        string         `db:"status" json:"status"`
	BatchSize     int            `db:"batch_size" json:"batch_size"`
	Added         int            `db:"added" json:"added"`
	Merged        int            `db:"merged" json:"merged"`
	Anomalies     int            `db:"anomalies" json:"anomalies"`
	Quarantined   bool           `db:"quarantined" json:"quarantined"`
	Total         int            `db:"total" json:"total"`
	Error         sql.NullString `db:"error" json:"-"`
	StartedAt     time.Time      `db:"started_at" json:"started_at"`
	FinishedAt    time.Time      `db:"finished_at" json:"finished_at"`
}

// NewRun creates a new Run for the given id and start time.
func NewRun(id string, startedAt time.Time) *Run {
	return &Run{
		ID:        id,
		Status:    RunStatusSucceeded,
		StartedAt: startedAt,
	}
}

// ErrorMessage returns the recorded error text, if any.
func (r *Run) ErrorMessage() string {
	if r.Error.Valid {
		return r.Error.String
	}
	return ""
}
