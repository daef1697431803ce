package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/newsbatch/internal/models"
	"reddot-watch/newsbatch/internal/partition"
	"reddot-watch/newsbatch/internal/server/storage"
)

type staticRuns []models.Run

func (s staticRuns) RecentRuns(_ context.Context, limit int) ([]models.Run, error) {
	if limit < len(s) {
		return s[:limit], nil
	}
	return s, nil
}

func newTestHandler(t *testing.T, runs storage.RunLister) (*NewsHandler, *partition.FileStore, *http.ServeMux) {
	t.Helper()
	store := partition.NewFileStore(filepath.Join(t.TempDir(), "data"))
	now := func() time.Time { return time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC) }
	h := NewNewsHandler(storage.NewRepository(store, runs), time.UTC, now)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/partitions", h.ListPartitions)
	mux.HandleFunc("GET /v1/partitions/{date}", h.GetPartition)
	mux.HandleFunc("GET /v1/runs", h.ListRuns)
	return h, store, mux
}

func seed(t *testing.T, store *partition.FileStore, date string, n int) {
	t.Helper()
	records := make([]models.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, models.Record{
			"title":        fmt.Sprintf("story %02d", i),
			"published_at": fmt.Sprintf("%sT%02d:00:00+00:00", date, i),
		})
	}
	// Stores handed to the repository are read-only; write through a fresh one.
	require.NoError(t, partition.NewFileStore(store.Dir).Save(context.Background(), date, records))
}

func get(t *testing.T, mux http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListPartitions(t *testing.T) {
	_, store, mux := newTestHandler(t, nil)
	seed(t, store, "2025-03-01", 1)
	seed(t, store, "2025-02-28", 1)

	rec := get(t, mux, "/v1/partitions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body DatesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"2025-03-01", "2025-02-28"}, body.Dates)
}

func TestGetPartitionPages(t *testing.T) {
	_, store, mux := newTestHandler(t, nil)
	seed(t, store, "2025-03-01", 5)

	var titles []string
	target := "/v1/partitions/2025-03-01?limit=2"
	for pages := 0; target != ""; pages++ {
		require.Less(t, pages, 5, "pagination did not terminate")
		rec := get(t, mux, target)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body PartitionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 5, body.Total)
		for _, r := range body.Records {
			titles = append(titles, r.Text("title"))
		}

		target = ""
		if body.NextCursor != nil {
			target = "/v1/partitions/2025-03-01?limit=2&cursor=" + *body.NextCursor
		}
	}

	assert.Equal(t, []string{"story 04", "story 03", "story 02", "story 01", "story 00"}, titles)
}

func TestGetPartitionRelativeDates(t *testing.T) {
	_, store, mux := newTestHandler(t, nil)
	seed(t, store, "2025-03-01", 2)
	seed(t, store, "2025-03-02", 1)

	for target, want := range map[string]string{
		"/v1/partitions/yesterday": "2025-03-01",
		"/v1/partitions/today":     "2025-03-02",
	} {
		rec := get(t, mux, target)
		require.Equal(t, http.StatusOK, rec.Code)

		var body PartitionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, want, body.Date, target)
	}
}

func TestGetPartitionMissingIsEmpty(t *testing.T) {
	_, _, mux := newTestHandler(t, nil)

	rec := get(t, mux, "/v1/partitions/2024-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"date":"2024-01-01","total":0,"records":[]}`, rec.Body.String())
}

func TestGetPartitionBadRequests(t *testing.T) {
	_, store, mux := newTestHandler(t, nil)
	seed(t, store, "2025-03-01", 3)

	for _, target := range []string{
		"/v1/partitions/last-week",
		"/v1/partitions/2025-03-01?limit=0",
		"/v1/partitions/2025-03-01?limit=abc",
		"/v1/partitions/2025-03-01?cursor=garbage",
		// A cursor issued for another day.
		"/v1/partitions/2025-03-01?cursor=MjAyNS0wMi0yOCwx",
	} {
		rec := get(t, mux, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetPartitionCorrupt(t *testing.T) {
	_, store, mux := newTestHandler(t, nil)
	require.NoError(t, os.MkdirAll(store.Dir, 0755))
	require.NoError(t, os.WriteFile(store.Path("2025-03-01"), []byte("[{"), 0644))

	rec := get(t, mux, "/v1/partitions/2025-03-01")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.FileExists(t, store.Path("2025-03-01"), "serving never quarantines")
}

func TestListRuns(t *testing.T) {
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	failed := models.NewRun("run-2", started.Add(time.Hour))
	failed.Status = models.RunStatusRejected
	failed.Error.String, failed.Error.Valid = "malformed batch", true
	runs := staticRuns{*failed, *models.NewRun("run-1", started)}

	_, _, mux := newTestHandler(t, runs)

	rec := get(t, mux, "/v1/runs?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []map[string]any `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "run-2", body.Runs[0]["id"])
	assert.Equal(t, "rejected", body.Runs[0]["status"])
	assert.Equal(t, "malformed batch", body.Runs[0]["error"])
}

func TestListRunsWithoutJournal(t *testing.T) {
	_, _, mux := newTestHandler(t, nil)

	rec := get(t, mux, "/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}
