package schemagate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/migration"
	"github.com/root-talis/schemagate/source"
)

// Analyzer is the thorough primary path of the COMPREHENSIVE strategy. On
// success the database must hold the schema of the last revision and be
// stamped with it.
type Analyzer interface {
	Analyze(ctx context.Context, drv driver.Driver, revisions []migration.Revision) error
}

type executor struct {
	drv      driver.Driver
	writer   source.Writer
	analyzer Analyzer
	cfg      Config
	logger   *slog.Logger
}

// outcome is what an executed strategy leaves behind.
type outcome struct {
	applied []migration.Migration
	// head is the revision the stamp must equal afterwards, if known.
	head *migration.Version
}

func (e *executor) execute(ctx context.Context, strategy Strategy, revisions []migration.Revision) (outcome, error) {
	switch strategy {
	case StrategyFreshInit:
		return e.freshInit(ctx, revisions)
	case StrategyCheckPending:
		return e.checkPending(ctx, revisions)
	case StrategyComprehensive:
		return e.comprehensive(ctx, revisions)
	}
	return e.comprehensive(ctx, revisions)
}

// --- FRESH_INIT ---

func (e *executor) freshInit(ctx context.Context, revisions []migration.Revision) (outcome, error) {
	if len(revisions) > 0 {
		e.logger.Info("revision bookkeeping present, applying declared revisions from scratch",
			"revisions", len(revisions))
		return e.applyAll(ctx, revisions)
	}

	// The version table is created by applyAll together with the baseline. A
	// run that dies before then leaves the database empty and FRESH again.
	if e.writer != nil {
		if err := e.writer.Init(); err != nil {
			return outcome{}, fmt.Errorf("failed to initialize revision bookkeeping: %w", err)
		}
	}

	baseline, err := e.baselineFromTarget()
	if err != nil {
		return outcome{}, err
	}

	return e.applyAll(ctx, []migration.Revision{baseline})
}

// --- CHECK_PENDING ---

func (e *executor) checkPending(ctx context.Context, revisions []migration.Revision) (outcome, error) {
	stamps, err := e.drv.ReadStamps(ctx)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to read current stamp: %w", err)
	}

	switch len(stamps) {
	case 0:
		if len(revisions) == 0 {
			untracked, err := e.onlyTrackingTables(ctx)
			if err != nil {
				return outcome{}, err
			}
			if untracked {
				e.logger.Warn("version table is empty and nothing else exists, resuming fresh initialization")
				return e.freshInit(ctx, revisions)
			}
		}
		e.logger.Info("version table is empty, applying every declared revision")
		return e.applyAll(ctx, revisions)
	case 1:
	default:
		return outcome{}, fmt.Errorf("%w: found %d", ErrMultipleStamps, len(stamps))
	}

	current := stamps[0]
	position := indexOf(revisions, current)

	if position < 0 {
		if len(revisions) == 0 || revisions[len(revisions)-1].Version < current {
			e.logger.Warn("stamp is newer than every declared revision, nothing to apply",
				"stamp", current.String())
			return outcome{head: &current}, nil
		}
		return outcome{}, fmt.Errorf("%w: %s", ErrUnknownRevision, current)
	}

	pending := revisions[position+1:]
	if len(pending) == 0 {
		e.logger.Info("schema is up to date", "stamp", current.String())
		return outcome{head: &current}, nil
	}

	e.logger.Info("applying pending revisions",
		"stamp", current.String(),
		"pending", len(pending))

	return e.applyAll(ctx, pending)
}

// --- COMPREHENSIVE ---

func (e *executor) comprehensive(ctx context.Context, revisions []migration.Revision) (outcome, error) {
	var failures []error

	if e.analyzer != nil {
		err := e.analyzer.Analyze(ctx, e.drv, revisions)
		if err == nil {
			e.logger.Info("comprehensive analysis reconciled the schema")
			return outcome{head: headOf(revisions)}, nil
		}
		e.logger.Warn("comprehensive analysis failed, falling back to manual baseline", "error", err)
		failures = append(failures, fmt.Errorf("analysis: %w", err))
	}

	if err := e.initTracking(ctx); err != nil {
		failures = append(failures, err)
		return outcome{}, exhausted(failures)
	}

	out, err := e.baselineFromExisting(ctx, revisions)
	if err == nil {
		return out, nil
	}
	e.logger.Warn("baseline from existing database failed", "error", err)
	failures = append(failures, fmt.Errorf("baseline from existing database: %w", err))

	if !e.cfg.AllowBlindStamp {
		e.logger.Error("last-resort stamp is disabled, refusing to guess the legacy schema revision")
		failures = append(failures, ErrBlindStampDisabled)
		return outcome{}, exhausted(failures)
	}

	out, err = e.lastResortStamp(ctx, revisions)
	if err == nil {
		return out, nil
	}
	e.logger.Error("last-resort stamp failed", "error", err)
	failures = append(failures, fmt.Errorf("last-resort stamp: %w", err))

	return outcome{}, exhausted(failures)
}

// lastResortStamp treats the legacy tables as the earliest declared revision
// without checking a single column, then applies the rest.
func (e *executor) lastResortStamp(ctx context.Context, revisions []migration.Revision) (outcome, error) {
	if len(revisions) == 0 {
		return outcome{}, ErrNoRevisions
	}

	earliest := revisions[0]
	e.logger.Warn("LAST-RESORT STAMP: marking legacy schema as the earliest declared revision without column-level verification",
		"version", earliest.Version.String(),
		"name", earliest.Name)

	if err := e.drv.Stamp(ctx, earliest.Migration); err != nil {
		return outcome{}, fmt.Errorf("failed to stamp %s: %w", earliest.Version, err)
	}

	out, err := e.applyAll(ctx, revisions[1:])
	if err != nil {
		return out, err
	}
	out.head = headOf(revisions)
	return out, nil
}

// --- primitives ---

func (e *executor) initTracking(ctx context.Context) error {
	if err := e.drv.InitTracking(ctx); err != nil {
		return fmt.Errorf("failed to initialize version tracking: %w", err)
	}
	if e.writer != nil {
		if err := e.writer.Init(); err != nil {
			return fmt.Errorf("failed to initialize revision bookkeeping: %w", err)
		}
	}
	return nil
}

// applyAll applies revisions in order. Each revision commits on its own, so a
// failure leaves the database stamped at the last revision that succeeded.
func (e *executor) applyAll(ctx context.Context, revisions []migration.Revision) (outcome, error) {
	if err := e.drv.InitTracking(ctx); err != nil {
		return outcome{}, fmt.Errorf("failed to initialize version tracking: %w", err)
	}

	var out outcome
	for _, rev := range revisions {
		e.logger.Info("applying revision",
			"version", rev.Version.String(),
			"name", rev.Name,
			"statements", len(rev.Statements))

		if err := e.drv.Apply(ctx, rev); err != nil {
			e.logger.Error("revision failed",
				"version", rev.Version.String(),
				"name", rev.Name,
				"error", err)
			return out, fmt.Errorf("failed to apply revision %s_%s: %w", rev.Version, rev.Name, err)
		}

		out.applied = append(out.applied, rev.Migration)
	}

	if len(revisions) > 0 {
		out.head = headOf(revisions)
	}
	return out, nil
}

// onlyTrackingTables reports whether the database holds nothing but the
// bookkeeping tables, as left by an interrupted fresh initialization.
func (e *executor) onlyTrackingTables(ctx context.Context) (bool, error) {
	snapshot, err := e.drv.InspectSchema(ctx)
	if err != nil {
		return false, err
	}

	tracking := e.trackingTables()
	for _, table := range snapshot.Tables() {
		if _, ok := tracking[strings.ToLower(table)]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// trackingTables is the lower-cased set of the driver's bookkeeping tables.
func (e *executor) trackingTables() map[string]struct{} {
	tracking := make(map[string]struct{})
	for _, table := range e.drv.TrackingTables() {
		tracking[strings.ToLower(table)] = struct{}{}
	}
	return tracking
}

func indexOf(revisions []migration.Revision, version migration.Version) int {
	for i, rev := range revisions {
		if rev.Version == version {
			return i
		}
	}
	return -1
}

func headOf(revisions []migration.Revision) *migration.Version {
	if len(revisions) == 0 {
		return nil
	}
	head := revisions[len(revisions)-1].Version
	return &head
}

func exhausted(failures []error) error {
	return errors.Join(append([]error{ErrStrategyExhausted}, failures...)...)
}
