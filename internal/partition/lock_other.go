//go:build !unix

package partition

import (
	"context"
	"sync"
)

// Without flock the lock only excludes holders within this process.
var (
	locksMu sync.Mutex
	locks   = make(map[string]chan struct{})
)

func lockFile(ctx context.Context, path string) (func(), error) {
	locksMu.Lock()
	ch, ok := locks[path]
	if !ok {
		ch = make(chan struct{}, 1)
		locks[path] = ch
	}
	locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
