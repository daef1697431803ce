// Package dedupe decides when two news records describe the same article and
// how their fields are combined.
package dedupe

import (
	"net/url"
	"strings"
)

// Rules controls which query parameters survive canonicalization.
type Rules struct {
	// KeepQuery lists the only query keys retained in a canonical URL.
	KeepQuery []string
	// DropPrefixes removes any key starting with one of these prefixes.
	DropPrefixes []string
	// DropParams removes these tracking keys outright.
	DropParams []string
}

// DefaultRules returns the built-in allow-list and tracking block-list.
func DefaultRules() Rules {
	return Rules{
		KeepQuery:    []string{"id", "cid", "sid", "ref"},
		DropPrefixes: []string{"utm_"},
		DropParams:   []string{"fbclid", "gclid", "igshid", "spm"},
	}
}

// Canonicalizer turns raw article links into a stable comparison form and
// derives identity keys from records. It is safe for concurrent use.
type Canonicalizer struct {
	keep         map[string]struct{}
	drop         map[string]struct{}
	dropPrefixes []string
}

// NewCanonicalizer builds a Canonicalizer from rules. Keys are matched
// case-insensitively.
func NewCanonicalizer(rules Rules) *Canonicalizer {
	c := &Canonicalizer{
		keep: make(map[string]struct{}, len(rules.KeepQuery)),
		drop: make(map[string]struct{}, len(rules.DropParams)),
	}
	for _, k := range rules.KeepQuery {
		c.keep[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range rules.DropParams {
		c.drop[strings.ToLower(k)] = struct{}{}
	}
	for _, p := range rules.DropPrefixes {
		if p != "" {
			c.dropPrefixes = append(c.dropPrefixes, strings.ToLower(p))
		}
	}
	return c
}

// Canonicalize normalizes raw for comparison: lower-cased host, no fragment,
// tracking parameters removed and only allow-listed parameters kept, in their
// original order. It never fails; input that does not parse is returned
// trimmed.
func (c *Canonicalizer) Canonicalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	// The fragment is discarded anyway, so a malformed one must not make
	// the whole URL unparseable.
	withoutFragment, _, _ := strings.Cut(trimmed, "#")
	u, err := url.Parse(withoutFragment)
	if err != nil {
		return trimmed
	}

	u.Host = strings.ToLower(u.Host)
	u.ForceQuery = false
	u.RawQuery = c.filterQuery(u.RawQuery)

	return u.String()
}

func (c *Canonicalizer) filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	var b strings.Builder
	for _, p := range parsePairs(rawQuery) {
		if !c.retain(p.key) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

func (c *Canonicalizer) retain(key string) bool {
	k := strings.ToLower(key)
	for _, prefix := range c.dropPrefixes {
		if strings.HasPrefix(k, prefix) {
			return false
		}
	}
	if _, tracking := c.drop[k]; tracking {
		return false
	}
	_, ok := c.keep[k]
	return ok
}

type queryPair struct {
	key   string
	value string
}

// parsePairs splits a raw query string into decoded pairs, keeping
// duplicates and blank values in their original order. Segments that fail
// to decode are kept verbatim rather than dropped.
func parsePairs(rawQuery string) []queryPair {
	var pairs []queryPair
	for _, segment := range strings.Split(rawQuery, "&") {
		if segment == "" {
			continue
		}
		key, value, _ := strings.Cut(segment, "=")
		pairs = append(pairs, queryPair{key: unescape(key), value: unescape(value)})
	}
	return pairs
}

func unescape(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}
	return s
}
