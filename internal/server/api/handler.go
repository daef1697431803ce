package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/newsbatch/internal/models"
	"reddot-watch/newsbatch/internal/partition"
	"reddot-watch/newsbatch/internal/server/pagination"
	"reddot-watch/newsbatch/internal/server/storage"
)

const defaultLimit = 100
const maxLimit = 1000
const defaultRunsLimit = 20

// PartitionResponse is a page of one day's records.
type PartitionResponse struct {
	Date       string          `json:"date"`
	Total      int             `json:"total"`
	Records    []models.Record `json:"records"`
	NextCursor *string         `json:"next_cursor,omitempty"`
}

// DatesResponse lists the stored partitions.
type DatesResponse struct {
	Dates []string `json:"dates"`
}

// RunsResponse lists recent ingestion runs.
type RunsResponse struct {
	Runs []RunView `json:"runs"`
}

// RunView is a journal row as served to clients.
type RunView struct {
	models.Run
	Error string `json:"error,omitempty"`
}

// NewsHandler holds dependencies for the API handlers.
type NewsHandler struct {
	repo storage.NewsRepository
	loc  *time.Location
	now  func() time.Time
}

// NewNewsHandler creates a new handler instance. loc decides which day
// "today" and "yesterday" refer to.
func NewNewsHandler(repo storage.NewsRepository, loc *time.Location, now func() time.Time) *NewsHandler {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &NewsHandler{repo: repo, loc: loc, now: now}
}

// ListPartitions handles requests for the list of stored dates.
func (h *NewsHandler) ListPartitions(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	dates, err := h.repo.ListDates(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error listing partitions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, DatesResponse{Dates: dates})
}

// GetPartition handles requests for a page of one partition's records.
func (h *NewsHandler) GetPartition(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	date, err := h.resolveDate(r.PathValue("date"))
	if err != nil {
		log.Warn().Err(err).Str("date", r.PathValue("date")).Msg("Invalid 'date' path value")
		http.Error(w, "Invalid date: use YYYY-MM-DD, 'today' or 'yesterday'", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	limit, ok := parseLimit(w, r, query.Get("limit"), defaultLimit)
	if !ok {
		return
	}

	offset := 0
	if cursorStr := query.Get("cursor"); cursorStr != "" {
		cursorDate, cursorOffset, err := pagination.DecodeCursor(cursorStr)
		if err != nil || cursorDate != date {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		offset = cursorOffset
	}

	records, err := h.repo.FetchRecords(r.Context(), date)
	if err != nil {
		if errors.Is(err, partition.ErrCorruptPartition) {
			log.Warn().Err(err).Str("date", date).Msg("Partition unreadable")
			http.Error(w, "Partition temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		log.Error().Err(err).Str("date", date).Msg("Error fetching partition")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	page := []models.Record{}
	if offset < len(records) {
		end := min(offset+limit, len(records))
		page = records[offset:end]
	}

	var nextCursor *string
	if next := offset + len(page); next < len(records) {
		cursor := pagination.EncodeCursor(date, next)
		nextCursor = &cursor
	}

	writeJSON(w, r, PartitionResponse{
		Date:       date,
		Total:      len(records),
		Records:    page,
		NextCursor: nextCursor,
	})
}

// ListRuns handles requests for recent journal rows.
func (h *NewsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	limit, ok := parseLimit(w, r, r.URL.Query().Get("limit"), defaultRunsLimit)
	if !ok {
		return
	}

	runs, err := h.repo.FetchRuns(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Error fetching runs")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, RunView{Run: run, Error: run.ErrorMessage()})
	}
	writeJSON(w, r, RunsResponse{Runs: views})
}

func (h *NewsHandler) resolveDate(value string) (string, error) {
	switch value {
	case "today":
		return partition.DateKey(h.now(), h.loc), nil
	case "yesterday":
		return partition.DateKey(h.now().In(h.loc).AddDate(0, 0, -1), h.loc), nil
	}
	if _, err := partition.ParseDate(value); err != nil {
		return "", err
	}
	return value, nil
}

func parseLimit(w http.ResponseWriter, r *http.Request, limitStr string, fallback int) (int, bool) {
	if limitStr == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > maxLimit {
		hlog.FromRequest(r).Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
		http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, body any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
