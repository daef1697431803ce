package importbatch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsbatch/internal/batch"
	"reddot-watch/newsbatch/internal/models"
	"reddot-watch/newsbatch/internal/process"
)

// knownColumns maps recognised CSV headers to record fields.
var knownColumns = map[string]string{
	"title":        models.FieldTitle,
	"url":          models.FieldURL,
	"source":       models.FieldSource,
	"published_at": models.FieldPublishedAt,
	"summary":      models.FieldSummary,
	"scraped_at":   models.FieldScrapedAt,
}

// Importer ingests spreadsheet exports of news records.
type Importer struct {
	ingester *process.Ingester
}

// NewImporter creates a new CSV importer
func NewImporter(ingester *process.Ingester) *Importer {
	return &Importer{ingester: ingester}
}

// ImportCSV reads records from a CSV file and ingests them into today's
// partition.
func (i *Importer) ImportCSV(ctx context.Context, csvPath string) (*process.Result, error) {
	log.Info().Str("csv", csvPath).Msg("Starting CSV import")

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	records, err := DecodeCSV(f)
	if err != nil {
		return nil, err
	}

	res, err := i.ingester.Ingest(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest CSV records: %w", err)
	}

	log.Info().Int("total", res.Total).Msg("Import completed successfully")
	return res, nil
}

// DecodeCSV converts CSV rows into raw records. The header must name a url
// or title column; other columns are carried through as extra fields. Empty
// cells are left out of the record. Rows that fail to parse are skipped and
// logged; a read error from r aborts the decode.
func DecodeCSV(r io.Reader) ([]models.Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read CSV header: %v", batch.ErrMalformedBatch, err)
	}

	log.Debug().Strs("header", header).Msg("CSV header read")

	fields := make([]string, len(header))
	hasIdentity := false
	for idx, column := range header {
		column = strings.TrimSpace(strings.TrimPrefix(column, "\ufeff"))
		if field, ok := knownColumns[strings.ToLower(column)]; ok {
			fields[idx] = field
			if field == models.FieldURL || field == models.FieldTitle {
				hasIdentity = true
			}
			continue
		}
		fields[idx] = column
	}
	if !hasIdentity {
		return nil, fmt.Errorf("%w: CSV header needs a 'url' or 'title' column", batch.ErrMalformedBatch)
	}

	records := []models.Record{}
	lineCount := 1 // Header was already read
	skipped := 0

	for {
		lineCount++
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			log.Warn().Err(err).Int("line", parseErr.StartLine).Msg("Skipping unparsable CSV row")
			skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", lineCount, err)
		}

		rec := make(models.Record)
		for idx, cell := range row {
			if idx >= len(fields) || fields[idx] == "" || cell == "" {
				continue
			}
			rec[fields[idx]] = cell
		}
		if len(rec) == 0 {
			log.Debug().Int("line", lineCount).Msg("Skipping empty row")
			continue
		}
		records = append(records, rec)
	}

	log.Info().
		Int("rows", lineCount-2).
		Int("records", len(records)).
		Int("skipped", skipped).
		Msg("CSV decode summary")

	return records, nil
}
