package schemagate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/migration"
)

// VerifyRequest is what a successful run must leave behind.
type VerifyRequest struct {
	RequiredTables []string
	// Head is the revision the stamp must equal; nil skips the comparison.
	Head *migration.Version
}

// Verify re-inspects the database and checks that every required table exists
// and that the version table holds exactly one stamp equal to Head. Transient
// failures are retried up to attempts times.
func Verify(ctx context.Context, drv driver.Driver, req VerifyRequest, attempts int, delay time.Duration, logger *slog.Logger) (migration.Version, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		attempt int
		stamp   migration.Version
	)
	err := retry.Do(ctx, constantBackoff(attempts, delay), func(ctx context.Context) error {
		attempt++
		var err error
		stamp, err = verifyOnce(ctx, drv, req)
		if err != nil {
			logger.Warn("schema verification attempt failed",
				"attempt", attempt,
				"max_attempts", attempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Info("schema verified", "stamp", stamp.String(), "attempts", attempt)
	return stamp, nil
}

func verifyOnce(ctx context.Context, drv driver.Driver, req VerifyRequest) (migration.Version, error) {
	snapshot, err := drv.InspectSchema(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	var problems []string

	var missing []string
	for _, table := range req.RequiredTables {
		if !snapshot.HasTable(table) {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		problems = append(problems, "missing tables: "+strings.Join(missing, ", "))
	}

	if !snapshot.HasVersionTable() {
		problems = append(problems, "version table is missing")
		return 0, fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(problems, "; "))
	}

	stamps, err := drv.ReadStamps(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	var stamp migration.Version
	switch {
	case len(stamps) != 1:
		problems = append(problems, fmt.Sprintf("expected exactly one stamp, found %d", len(stamps)))
	case req.Head != nil && stamps[0] != *req.Head:
		problems = append(problems, fmt.Sprintf("stamp %s is not the latest revision %s", stamps[0], *req.Head))
	default:
		stamp = stamps[0]
	}

	if len(problems) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(problems, "; "))
	}

	return stamp, nil
}
