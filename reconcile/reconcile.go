// Package reconcile is the column-level analysis used as the primary path for
// databases whose state cannot be trusted. It compares the live catalog with
// the target schema, adds whatever is missing without touching what exists,
// and stamps the database with the latest declared revision.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/internal/ddl"
	"github.com/root-talis/schemagate/migration"
)

var (
	ErrConflictingTables = errors.New("database holds tables that cannot be reconciled automatically")
	ErrNoTargetSchema    = errors.New("no target schema to reconcile against")
	ErrNoRevisions       = errors.New("no declared revision to stamp")
)

type Options struct {
	// TargetSchema is the DDL script describing the expected schema.
	TargetSchema string
	// ConflictingTables abort the analysis when any of them exists.
	ConflictingTables []string
	Logger            *slog.Logger
}

type Analyzer struct {
	target    []ddl.Table
	conflicts []string
	logger    *slog.Logger
}

func New(opts Options) *Analyzer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Analyzer{
		target:    ddl.ParseTables(opts.TargetSchema),
		conflicts: append([]string(nil), opts.ConflictingTables...),
		logger:    logger,
	}
}

// Plan returns the statements that would bring drv up to the target schema.
func (a *Analyzer) Plan(ctx context.Context, drv driver.Driver) ([]string, error) {
	if len(a.target) == 0 {
		return nil, ErrNoTargetSchema
	}

	snapshot, err := drv.InspectSchema(ctx)
	if err != nil {
		return nil, err
	}

	var found []string
	for _, table := range a.conflicts {
		if snapshot.HasTable(table) {
			found = append(found, table)
		}
	}
	if len(found) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrConflictingTables, strings.Join(found, ", "))
	}

	// Existing tables are addressed by their catalog spelling, since the
	// engine may have folded the case of an unquoted name.
	target := make([]ddl.Table, 0, len(a.target))
	existing := make(map[string][]string)
	for _, table := range a.target {
		name, ok := snapshot.Lookup(table.Name)
		if !ok {
			target = append(target, table)
			continue
		}
		table.Name = name

		columns, err := drv.InspectColumns(ctx, name)
		if err != nil {
			return nil, err
		}

		names := make([]string, 0, len(columns))
		for _, c := range columns {
			names = append(names, c.Name)
		}
		existing[name] = names
		target = append(target, table)
	}

	return ddl.AdditiveDiff(target, existing, drv.QuoteIdent), nil
}

// Analyze applies the plan and stamps the latest revision.
func (a *Analyzer) Analyze(ctx context.Context, drv driver.Driver, revisions []migration.Revision) error {
	if len(revisions) == 0 {
		return ErrNoRevisions
	}
	head := revisions[len(revisions)-1]

	statements, err := a.Plan(ctx, drv)
	if err != nil {
		return err
	}

	if err := drv.InitTracking(ctx); err != nil {
		return fmt.Errorf("failed to initialize version tracking: %w", err)
	}

	if len(statements) > 0 {
		a.logger.Info("reconciling schema with target",
			"statements", len(statements))

		if err := drv.ApplyDDL(ctx, statements); err != nil {
			return fmt.Errorf("failed to reconcile schema: %w", err)
		}
	}

	if err := drv.Stamp(ctx, head.Migration); err != nil {
		return fmt.Errorf("failed to stamp %s: %w", head.Version, err)
	}

	a.logger.Info("schema reconciled and stamped",
		"version", head.Version.String(),
		"name", head.Name)

	return nil
}
