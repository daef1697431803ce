package dedupe

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"reddot-watch/newsbatch/internal/models"
)

// Identity key prefixes, one per derivation rule.
const (
	KeyPrefixURL     = "u:"
	KeyPrefixTitle   = "t:"
	KeyPrefixContent = "h:"
)

// IdentityKey derives the key under which rec is deduplicated within a
// partition. The first applicable rule wins:
//
//	u:<canonical url>            when url is non-blank
//	t:<sha1 of normalized title> when title is non-blank
//	h:<sha1 of record content>   otherwise
//
// The content hash ignores scraped_at and canonical_url, which are derived
// at ingestion time rather than supplied by the producer.
func (c *Canonicalizer) IdentityKey(rec models.Record) string {
	if u := strings.TrimSpace(rec.Text(models.FieldURL)); u != "" {
		return KeyPrefixURL + c.Canonicalize(u)
	}
	if title := NormalizeTitle(rec.Text(models.FieldTitle)); title != "" {
		return KeyPrefixTitle + stableHash([]byte(title))
	}
	return KeyPrefixContent + stableHash(contentBytes(rec))
}

// NormalizeTitle collapses whitespace runs to a single space and lower-cases.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

func stableHash(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// contentBytes serializes the producer-supplied part of rec. encoding/json
// writes map keys in sorted order, so equal records always produce equal
// bytes regardless of field insertion order. Malformed text fields are left
// out, as Enrich drops them before a record is stored.
func contentBytes(rec models.Record) []byte {
	content := make(map[string]any, len(rec))
	for k, v := range rec {
		if k == models.FieldScrapedAt || k == models.FieldCanonicalURL {
			continue
		}
		if _, isText := v.(string); !isText && v != nil && slices.Contains(models.TextFields, k) {
			continue
		}
		content[k] = v
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(content); err != nil {
		// Unreachable for decoded JSON; fmt also prints maps in key order.
		buf.Reset()
		fmt.Fprint(&buf, content)
	}
	return buf.Bytes()
}
