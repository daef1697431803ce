// Package server exposes stored partitions and the run journal over a
// read-only HTTP API.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/newsbatch/internal/server/api"
	"reddot-watch/newsbatch/internal/server/storage"
)

const shutdownTimeout = 30 * time.Second

// requireAPIKey rejects requests whose X-API-Key header does not match key.
func requireAPIKey(key string, next http.Handler) http.Handler {
	want := []byte(key)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		if got == "" {
			http.Error(w, "API key required", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			hlog.FromRequest(r).Warn().Msg("Rejected request with invalid API key")
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func routes(news *api.NewsHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/partitions", news.ListPartitions)
	mux.HandleFunc("GET /v1/partitions/{date}", news.GetPartition)
	mux.HandleFunc("GET /v1/runs", news.ListRuns)
	mux.HandleFunc("GET /health", health)
	return mux
}

// NewHandler returns the API handler. Every request is logged with a
// request id; when apiKey is set, requests must carry it.
func NewHandler(repo storage.NewsRepository, loc *time.Location, logger zerolog.Logger, apiKey string) http.Handler {
	var h http.Handler = routes(api.NewNewsHandler(repo, loc, time.Now))
	if apiKey != "" {
		h = requireAPIKey(apiKey, h)
	}

	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Served partition API request")
	})(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.URLHandler("url")(h)
	h = hlog.MethodHandler("method")(h)
	h = hlog.NewHandler(logger)(h)

	logger.Info().Bool("api_key", apiKey != "").Msg("Partition API configured")
	return h
}

// RunServer serves the API on listenAddr until ctx is cancelled, then
// drains in-flight requests.
func RunServer(ctx context.Context, repo storage.NewsRepository, listenAddr string, loc *time.Location, logger zerolog.Logger, apiKey string) error {
	logger = logger.With().Str("service", "newsbatch-api").Logger()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	httpServer := &http.Server{
		Handler:           NewHandler(repo, loc, logger, apiKey),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", ln.Addr().String()).Msg("Partition API listening")
		serveErr <- httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Partition API did not drain, closing connections")
		httpServer.Close()
	}
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info().Msg("Partition API stopped")
	return nil
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte("OK")); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("Health response not written")
	}
}
