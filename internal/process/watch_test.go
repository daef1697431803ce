package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reddot-watch/newsbatch/internal/batch"
)

func TestWatchBatchTriggersOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "news_batch.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- WatchBatch(ctx, path, 20*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return errors.New("ingestion errors are logged, not fatal")
		})
	}()

	// Unrelated files in the same directory are ignored.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "other.json"), []byte("[]"), 0644)
		_ = os.WriteFile(path, []byte("[]"), 0644)
		return calls.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	n := calls.Load()
	require.NoError(t, os.WriteFile(path, []byte(`[{"title": "again"}]`), 0644))
	require.Eventually(t, func() bool { return calls.Load() > n }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatchBatchMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "news_batch.json")
	err := WatchBatch(context.Background(), path, time.Millisecond, func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestWatchBatchIngests(t *testing.T) {
	ing, store := newTestIngester(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "news_batch.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = WatchBatch(ctx, path, 20*time.Millisecond, func(ctx context.Context) error {
			_, err := ing.Run(ctx, batch.NewFileSource(path))
			return err
		})
	}()

	require.Eventually(t, func() bool {
		if _, err := os.Stat(store.Path(today)); err == nil {
			return true
		}
		// Rewrite until the watcher is registered and picks it up.
		_ = os.WriteFile(path, []byte(`[{"url": "https://example.com/w"}]`), 0644)
		return false
	}, 5*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, loadToday(t, store), 1)
}
