package dedupe

import (
	"strings"

	"reddot-watch/newsbatch/internal/models"
)

// ScrapedAtLayout is the format of scraped_at values written at ingestion:
// second precision with a numeric UTC offset.
const ScrapedAtLayout = "2006-01-02T15:04:05-07:00"

// Merger combines incoming records with the stored record sharing their
// identity key.
type Merger struct {
	canon *Canonicalizer
}

// NewMerger creates a Merger that derives canonical_url with canon.
func NewMerger(canon *Canonicalizer) *Merger {
	return &Merger{canon: canon}
}

// Enrich returns a copy of raw ready for storage. Known text fields holding
// non-string values are dropped, scraped_at is set to now when missing, and
// canonical_url is derived from url (and removed when there is no url).
func (m *Merger) Enrich(raw models.Record, now string) models.Record {
	out := raw.Clone()
	for _, field := range models.TextFields {
		if v, ok := out[field]; ok {
			if _, isText := v.(string); !isText && v != nil {
				delete(out, field)
			}
		}
	}
	if !out.Has(models.FieldScrapedAt) {
		out[models.FieldScrapedAt] = now
	}
	m.deriveCanonical(out)
	return out
}

// Merge folds incoming into existing. A nil existing means this is the first
// sighting and the enriched incoming record is returned as is. Otherwise
// every non-empty incoming field overwrites the stored one, fields the
// incoming record leaves empty keep their stored value, and a stored
// scraped_at is never replaced.
func (m *Merger) Merge(existing, incoming models.Record, now string) models.Record {
	enriched := m.Enrich(incoming, now)
	if existing == nil {
		return enriched
	}

	merged := existing.Clone()
	for field, value := range enriched {
		if models.IsEmptyValue(value) {
			continue
		}
		if field == models.FieldScrapedAt && merged.Has(models.FieldScrapedAt) {
			if _, ok := merged[field].(string); ok {
				continue
			}
		}
		merged[field] = value
	}
	m.deriveCanonical(merged)
	return merged
}

func (m *Merger) deriveCanonical(rec models.Record) {
	if u := strings.TrimSpace(rec.Text(models.FieldURL)); u != "" {
		rec[models.FieldCanonicalURL] = m.canon.Canonicalize(u)
		return
	}
	delete(rec, models.FieldCanonicalURL)
}
