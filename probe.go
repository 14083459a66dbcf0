package schemagate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/root-talis/schemagate/driver"
)

// Probe waits until drv answers a trivial round-trip, trying up to attempts
// times with delay in between.
func Probe(ctx context.Context, drv driver.Driver, attempts int, delay time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	attempt := 0
	err := retry.Do(ctx, constantBackoff(attempts, delay), func(ctx context.Context) error {
		attempt++
		if err := drv.Ping(ctx); err != nil {
			logger.Warn("database not ready",
				"attempt", attempt,
				"max_attempts", attempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrProbeFailed, attempt, err)
	}

	logger.Info("database is reachable", "attempts", attempt)
	return nil
}

func constantBackoff(attempts int, delay time.Duration) retry.Backoff {
	if attempts < 1 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Nanosecond
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
}
