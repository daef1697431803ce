package process

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// WatchBatch calls fn every time the file at path is created or written,
// once events have been quiet for debounce. It blocks until ctx is done.
// Errors from fn are logged and do not stop the watch.
func WatchBatch(ctx context.Context, path string, debounce time.Duration, fn func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	// Watch the directory so that a batch replaced by rename is still seen.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	log.Info().Str("path", target).Dur("debounce", debounce).Msg("Watching batch file")

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			timer.Reset(debounce)
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", target).Msg("Batch watcher error")

		case <-fire:
			fire = nil
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("path", target).Msg("Batch ingestion triggered by watcher failed")
			}
		}
	}
}
