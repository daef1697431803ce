package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/newsbatch/internal/partition"
	"reddot-watch/newsbatch/internal/server/storage"
)

func newTestServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	repo := storage.NewRepository(partition.NewFileStore(t.TempDir()), nil)
	srv := httptest.NewServer(NewHandler(repo, time.UTC, zerolog.Nop(), apiKey))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Request-Id"))
}

func TestAPIKey(t *testing.T) {
	srv := newTestServer(t, "secret")

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "guess", http.StatusUnauthorized},
		{"valid", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/partitions", nil)
			require.NoError(t, err)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Post(srv.URL+"/v1/partitions", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRunServerStopsOnCancel(t *testing.T) {
	repo := storage.NewRepository(partition.NewFileStore(t.TempDir()), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- RunServer(ctx, repo, "127.0.0.1:0", time.UTC, zerolog.Nop(), "")
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestRunServerListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	repo := storage.NewRepository(partition.NewFileStore(t.TempDir()), nil)
	err = RunServer(context.Background(), repo, ln.Addr().String(), time.UTC, zerolog.Nop(), "")
	require.Error(t, err)
}

func TestAPIKeyRejectionCarriesRequestID(t *testing.T) {
	srv := newTestServer(t, "secret")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secreT")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Request-Id"), "rejected requests still carry a request id")
}
