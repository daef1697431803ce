package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsbatch/internal/batch"
	"reddot-watch/newsbatch/internal/dedupe"
	"reddot-watch/newsbatch/internal/models"
	"reddot-watch/newsbatch/internal/partition"
)

// Clock supplies the ingestion time. The partition day and scraped_at of a
// run both come from its first reading.
type Clock func() time.Time

// Store is the partition storage the pipeline reads and writes.
type Store interface {
	Load(ctx context.Context, date string) (*partition.Partition, error)
	Save(ctx context.Context, date string, records []models.Record) error
	Lock(ctx context.Context, date string) (func(), error)
}

// Journal records the outcome of each run.
type Journal interface {
	RecordRun(ctx context.Context, run *models.Run) error
}

// Source hands out batches of raw records. Each claimed batch belongs to a
// single run until it is cleared or released.
type Source interface {
	Name() string
	Claim() (*batch.Claim, error)
}

// Result summarises one ingestion run.
type Result struct {
	RunID         string
	Partition     string
	BatchSize     int
	Added         int
	Merged        int
	Anomalies     int
	QuarantinedTo string
	Total         int
	Duration      time.Duration
}

// Ingester merges batches into today's partition.
type Ingester struct {
	store   Store
	canon   *dedupe.Canonicalizer
	merger  *dedupe.Merger
	journal Journal
	clock   Clock
	loc     *time.Location

	WorkerCount int

	added  atomic.Int64
	merged atomic.Int64
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithClock replaces time.Now.
func WithClock(clock Clock) Option {
	return func(i *Ingester) { i.clock = clock }
}

// WithLocation sets the zone that decides which calendar day "today" is.
func WithLocation(loc *time.Location) Option {
	return func(i *Ingester) { i.loc = loc }
}

// WithJournal records every run in j.
func WithJournal(j Journal) Option {
	return func(i *Ingester) { i.journal = j }
}

// WithWorkers sets the number of goroutines deriving identity keys. Zero
// or less means runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(i *Ingester) { i.WorkerCount = n }
}

// minParallelRecords is the record count below which keys are derived
// on the calling goroutine.
const minParallelRecords = 256

const journalTimeout = 10 * time.Second

// NewIngester creates an Ingester writing through store.
func NewIngester(store Store, canon *dedupe.Canonicalizer, opts ...Option) (*Ingester, error) {
	if store == nil {
		return nil, fmt.Errorf("partition store cannot be nil")
	}
	if canon == nil {
		return nil, fmt.Errorf("canonicalizer cannot be nil")
	}

	i := &Ingester{
		store:  store,
		canon:  canon,
		merger: dedupe.NewMerger(canon),
		clock:  time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.WorkerCount <= 0 {
		i.WorkerCount = runtime.NumCPU()
	}
	return i, nil
}

// Run claims the batch held by src, ingests it and clears it on success.
// A malformed batch aborts the run before any partition is read or
// written. A batch whose ingestion fails is released for the next run.
func (i *Ingester) Run(ctx context.Context, src Source) (*Result, error) {
	claim, err := src.Claim()
	if err != nil {
		if errors.Is(err, batch.ErrMalformedBatch) {
			i.recordRejected(ctx, err)
		}
		return nil, err
	}

	res, err := i.Ingest(ctx, claim.Records)
	if err != nil {
		if releaseErr := claim.Release(); releaseErr != nil {
			log.Warn().Err(releaseErr).Str("source", src.Name()).Msg("Failed to release batch after failed run")
		}
		return nil, err
	}

	if err := claim.Clear(); err != nil {
		log.Warn().Err(err).Str("source", src.Name()).Str("path", claim.Path).Msg("Failed to clear ingested batch")
	}
	return res, nil
}

// Ingest merges records into today's partition and returns the number of
// distinct records it now holds, along with run statistics.
func (i *Ingester) Ingest(ctx context.Context, records []models.Record) (*Result, error) {
	start := i.clock()
	run := models.NewRun(uuid.NewString(), start)
	run.PartitionDate = partition.DateKey(start, i.loc)
	run.BatchSize = len(records)

	logger := log.With().Str("run_id", run.ID).Str("partition", run.PartitionDate).Logger()
	logger.Info().Int("batch_size", len(records)).Msg("Starting ingestion run")

	res, err := i.ingest(ctx, run, records, start.In(i.loc).Format(dedupe.ScrapedAtLayout))
	run.FinishedAt = i.clock()
	if err != nil {
		run.Status = models.RunStatusFailed
		run.Error = sql.NullString{String: err.Error(), Valid: true}
		i.record(ctx, run)
		return nil, fmt.Errorf("ingestion run %s failed: %w", run.ID, err)
	}

	run.Added = res.Added
	run.Merged = res.Merged
	run.Anomalies = res.Anomalies
	run.Quarantined = res.QuarantinedTo != ""
	run.Total = res.Total
	i.record(ctx, run)

	i.added.Add(int64(res.Added))
	i.merged.Add(int64(res.Merged))

	res.Duration = run.FinishedAt.Sub(start)
	logger.Info().
		Int("added", res.Added).
		Int("merged", res.Merged).
		Int("anomalies", res.Anomalies).
		Int("total", res.Total).
		Dur("duration", res.Duration).
		Msg("Ingestion run finished")
	return res, nil
}

func (i *Ingester) ingest(ctx context.Context, run *models.Run, records []models.Record, now string) (*Result, error) {
	date := run.PartitionDate

	unlock, err := i.store.Lock(ctx, date)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := i.store.Load(ctx, date)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:         run.ID,
		Partition:     date,
		BatchSize:     len(records),
		QuarantinedTo: existing.QuarantinedTo,
	}

	existingKeys, err := i.deriveKeys(ctx, existing.Records)
	if err != nil {
		return nil, err
	}
	idx := newIndex(len(existing.Records) + len(records))
	for n, rec := range existing.Records {
		if idx.put(existingKeys[n], rec) {
			res.Anomalies++
			log.Warn().
				Str("partition", date).
				Str("key", existingKeys[n]).
				Int("position", n).
				Msg("Duplicate identity key in stored partition, keeping the later record")
		}
	}

	batchKeys, err := i.deriveKeys(ctx, records)
	if err != nil {
		return nil, err
	}
	for n, rec := range records {
		key := batchKeys[n]
		prev := idx.get(key)
		if prev == nil {
			res.Added++
		} else {
			res.Merged++
		}
		idx.put(key, i.merger.Merge(prev, rec, now))
	}

	merged := idx.values()
	if err := i.store.Save(ctx, date, merged); err != nil {
		return nil, err
	}
	res.Total = len(merged)
	return res, nil
}

// deriveKeys computes identity keys in parallel; keys[n] belongs to
// records[n].
func (i *Ingester) deriveKeys(ctx context.Context, records []models.Record) ([]string, error) {
	keys := make([]string, len(records))
	if len(records) < minParallelRecords || i.WorkerCount == 1 {
		for n, rec := range records {
			keys[n] = i.canon.IdentityKey(rec)
		}
		return keys, ctx.Err()
	}

	jobs := make(chan int, i.WorkerCount*2)
	var wg sync.WaitGroup
	for w := 0; w < i.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				keys[n] = i.canon.IdentityKey(records[n])
			}
		}()
	}

queue:
	for n := range records {
		select {
		case jobs <- n:
		case <-ctx.Done():
			break queue
		}
	}
	close(jobs)
	wg.Wait()

	return keys, ctx.Err()
}

func (i *Ingester) recordRejected(ctx context.Context, cause error) {
	now := i.clock()
	run := models.NewRun(uuid.NewString(), now)
	run.PartitionDate = partition.DateKey(now, i.loc)
	run.Status = models.RunStatusRejected
	run.Error = sql.NullString{String: cause.Error(), Valid: true}
	run.FinishedAt = now
	i.record(ctx, run)
}

// record writes run to the journal. Journal failures never fail a run.
func (i *Ingester) record(ctx context.Context, run *models.Run) {
	if i.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := i.journal.RecordRun(jctx, run); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record run in journal")
	}
}

// Stats returns cumulative counts across all runs of this Ingester.
func (i *Ingester) Stats() (added, merged int64) {
	added = i.added.Load()
	merged = i.merged.Load()
	return
}

// index keeps at most one record per identity key, in first-seen key order.
type index struct {
	keys    []string
	records map[string]models.Record
}

func newIndex(capacity int) *index {
	return &index{
		keys:    make([]string, 0, capacity),
		records: make(map[string]models.Record, capacity),
	}
}

func (x *index) get(key string) models.Record {
	return x.records[key]
}

// put stores rec under key and reports whether it replaced a record.
func (x *index) put(key string, rec models.Record) bool {
	_, replaced := x.records[key]
	if !replaced {
		x.keys = append(x.keys, key)
	}
	x.records[key] = rec
	return replaced
}

func (x *index) values() []models.Record {
	out := make([]models.Record, 0, len(x.keys))
	for _, k := range x.keys {
		out = append(out, x.records[k])
	}
	return out
}
