package partition

import (
	"encoding/json"
	"sort"

	"reddot-watch/newsbatch/internal/models"
)

// SortRecords orders records freshest first by effective timestamp
// (published_at, else scraped_at, else ""), compared as ISO-8601 strings.
// Records with equal timestamps are ordered by their JSON encoding so the
// result never depends on input order.
func SortRecords(records []models.Record) {
	type sortable struct {
		rec models.Record
		ts  string
		tie string
	}

	items := make([]sortable, len(records))
	for i, rec := range records {
		tie, _ := json.Marshal(rec)
		items[i] = sortable{rec: rec, ts: rec.EffectiveTime(), tie: string(tie)}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ts != items[j].ts {
			return items[i].ts > items[j].ts
		}
		return items[i].tie < items[j].tie
	})

	for i := range items {
		records[i] = items[i].rec
	}
}
