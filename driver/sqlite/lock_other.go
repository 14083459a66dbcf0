//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package sqlite

import (
	"context"
	"fmt"
	"sync"
)

// Without flock, runs serialize within this process only.
var (
	locksMu sync.Mutex
	locks   = map[string]*sync.Mutex{}
)

func lockFile(ctx context.Context, path string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire sqlite lock %s: %w", path, err)
	}

	locksMu.Lock()
	mu, ok := locks[path]
	if !ok {
		mu = &sync.Mutex{}
		locks[path] = mu
	}
	locksMu.Unlock()

	mu.Lock()
	return mu.Unlock, nil
}
