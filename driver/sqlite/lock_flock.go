//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

const lockPollInterval = 100 * time.Millisecond

// lockFile takes an exclusive flock on path, creating it if needed, and polls
// until the lock is free or ctx is done. flock locks belong to the open file,
// so two drivers in one process exclude each other like two processes do.
func lockFile(ctx context.Context, path string) (func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	err = retry.Do(ctx, retry.NewConstant(lockPollInterval), func(_ context.Context) error {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("acquire sqlite lock %s: %w", path, err)
	}

	// The file is never removed; unlinking it under a waiter would split the lock.
	return func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
	}, nil
}
