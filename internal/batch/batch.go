// Package batch reads the producer's batch of raw records.
package batch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsbatch/internal/models"
)

// ErrMalformedBatch means the batch is not a JSON array of objects. Nothing
// has been written when it is returned.
var ErrMalformedBatch = errors.New("malformed batch")

const (
	processingExt = ".processing"
	rejectedExt   = ".rejected"
)

// Decode parses a batch, which must be a JSON array of objects.
func Decode(r io.Reader) ([]models.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	records, err := models.DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	return records, nil
}

// FileSource is a batch stored as a JSON file by the producer. A run claims
// the file by renaming it, so a batch written while a run is in progress
// waits for the next run instead of being removed with the old one.
type FileSource struct {
	Path string
}

// NewFileSource creates a source for the batch file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Name identifies the source in logs.
func (s *FileSource) Name() string {
	return s.Path
}

// Claim is a batch taken over by one run. Path is empty when there was no
// batch to take.
type Claim struct {
	Path    string
	Records []models.Record

	source string
}

// Claim moves the batch to <path>.<id>.processing and decodes it. A missing
// file is an empty batch. A malformed batch is renamed to
// <path>.<id>.rejected and left there for inspection.
func (s *FileSource) Claim() (*Claim, error) {
	id := uuid.NewString()
	claimed := fmt.Sprintf("%s.%s%s", s.Path, id, processingExt)

	err := os.Rename(s.Path, claimed)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", s.Path).Msg("No batch file found, nothing new to ingest")
		return &Claim{Records: []models.Record{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	records, err := decodeFile(claimed)
	if errors.Is(err, ErrMalformedBatch) {
		rejected := fmt.Sprintf("%s.%s%s", s.Path, id, rejectedExt)
		if renameErr := os.Rename(claimed, rejected); renameErr != nil {
			log.Warn().Err(renameErr).Str("path", claimed).Msg("Failed to set rejected batch aside")
			rejected = claimed
		}
		log.Warn().Str("path", rejected).Msg("Malformed batch set aside")
		return nil, fmt.Errorf("batch %s: %w", rejected, err)
	}
	if err != nil {
		c := &Claim{Path: claimed, source: s.Path}
		if releaseErr := c.Release(); releaseErr != nil {
			log.Warn().Err(releaseErr).Msg("Failed to hand back unread batch")
		}
		return nil, err
	}

	log.Debug().Str("path", claimed).Int("records", len(records)).Msg("Batch claimed")
	return &Claim{Path: claimed, Records: records, source: s.Path}, nil
}

// Clear removes the claimed file once its records are stored.
func (c *Claim) Clear() error {
	if c.Path == "" {
		return nil
	}
	err := os.Remove(c.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Release hands an unprocessed claim back to the producer path so the next
// run retries it. If a newer batch already sits there, the claim stays
// under its .processing name and is reported.
func (c *Claim) Release() error {
	if c.Path == "" {
		return nil
	}
	// Link fails when the source path exists, which a rename would overwrite.
	if err := os.Link(c.Path, c.source); err != nil {
		return fmt.Errorf("batch left at %s: %w", c.Path, err)
	}
	return os.Remove(c.Path)
}

func decodeFile(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// EnsureDir creates the directory the batch file lives in.
func (s *FileSource) EnsureDir() error {
	dir := filepath.Dir(s.Path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create batch directory: %w", err)
	}
	return nil
}
