// Package partition persists day-partitioned collections of news records as
// one JSON file per calendar date.
package partition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsbatch/internal/models"
)

const (
	fileExt       = ".json"
	lockExt       = ".lock"
	quarantineExt = ".corrupt"
	filePerm      = 0644
)

// ErrCorruptPartition is returned by a read-only store when a partition file
// cannot be parsed. A writable store quarantines the file instead.
var ErrCorruptPartition = errors.New("corrupt partition")

// Partition is the content of one day.
type Partition struct {
	Date    string
	Records []models.Record
	// QuarantinedTo is set when the stored file was unreadable and has been
	// moved to this path; Records is then empty.
	QuarantinedTo string
}

// FileStore keeps partitions under Dir as <date>.json.
type FileStore struct {
	Dir      string
	ReadOnly bool
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns the partition file for date.
func (s *FileStore) Path(date string) string {
	return filepath.Join(s.Dir, date+fileExt)
}

// Load reads the partition for date. A missing partition is empty. An
// unreadable one is moved aside under a .corrupt name, never deleted, and
// treated as empty.
func (s *FileStore) Load(ctx context.Context, date string) (*Partition, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &Partition{Date: date, Records: []models.Record{}}
	path := s.Path(date)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read partition %s: %w", date, err)
	}

	records, parseErr := models.DecodeRecords(data)
	if parseErr == nil {
		p.Records = records
		return p, nil
	}

	if s.ReadOnly {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptPartition, date, parseErr)
	}

	dest, err := s.quarantine(path)
	if err != nil {
		return nil, fmt.Errorf("failed to quarantine corrupt partition %s: %w", date, err)
	}
	log.Warn().
		Err(parseErr).
		Str("partition", date).
		Str("path", path).
		Str("quarantined_to", dest).
		Int("bytes", len(data)).
		Msg("Corrupt partition quarantined, starting the day fresh")

	p.QuarantinedTo = dest
	return p, nil
}

// quarantine renames path to the first unused <path>.corrupt[.N] name.
func (s *FileStore) quarantine(path string) (string, error) {
	dest := path + quarantineExt
	for n := 1; ; n++ {
		if _, err := os.Lstat(dest); errors.Is(err, fs.ErrNotExist) {
			break
		} else if err != nil {
			return "", err
		}
		dest = fmt.Sprintf("%s%s.%d", path, quarantineExt, n)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Save sorts records (see SortRecords) and atomically replaces the partition
// for date. Readers see either the previous file or the new one in full.
func (s *FileStore) Save(ctx context.Context, date string, records []models.Record) error {
	if s.ReadOnly {
		return fmt.Errorf("cannot save partition %s: store is read-only", date)
	}
	if _, err := ParseDate(date); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	SortRecords(records)
	data, err := models.EncodeRecords(records)
	if err != nil {
		return fmt.Errorf("failed to encode partition %s: %w", date, err)
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := renameio.WriteFile(s.Path(date), data, filePerm); err != nil {
		return fmt.Errorf("failed to write partition %s: %w", date, err)
	}

	log.Debug().
		Str("partition", date).
		Int("records", len(records)).
		Int("bytes", len(data)).
		Msg("Partition saved")
	return nil
}

// Lock takes the advisory lock for date, waiting until it is free or ctx is
// done. The returned func releases it.
func (s *FileStore) Lock(ctx context.Context, date string) (func(), error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	unlock, err := lockFile(ctx, s.Path(date)+lockExt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock partition %s: %w", date, err)
	}
	return unlock, nil
}

// Dates lists the stored partitions, newest first.
func (s *FileStore) Dates(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	dates := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		date := strings.TrimSuffix(name, fileExt)
		if _, err := ParseDate(date); err != nil {
			continue
		}
		dates = append(dates, date)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}
