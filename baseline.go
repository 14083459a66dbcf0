package schemagate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/root-talis/schemagate/internal/ddl"
	"github.com/root-talis/schemagate/migration"
)

const baselineVersionLayout = "20060102150405"

// newBaselineVersion returns the current UTC time as a 14-digit version, the
// same shape the migrations directory uses for hand-written revisions.
func newBaselineVersion(now time.Time) (migration.Version, error) {
	return migration.ParseVersion(now.UTC().Format(baselineVersionLayout))
}

// baselineFromTarget synthesizes the first revision of an empty database from
// the configured target schema and records it with the writer.
func (e *executor) baselineFromTarget() (migration.Revision, error) {
	statements := ddl.SplitWith(e.cfg.TargetSchema, ddl.EscapesFor(e.drv.Name()))
	if len(statements) == 0 {
		return migration.Revision{}, ErrNoRevisions
	}

	version, err := newBaselineVersion(time.Now())
	if err != nil {
		return migration.Revision{}, err
	}

	baseline := migration.Revision{
		Migration:  migration.Migration{Version: version, Name: "baseline"},
		Statements: statements,
	}

	if err := e.save(baseline); err != nil {
		return migration.Revision{}, err
	}

	e.logger.Info("synthesized baseline revision from target schema",
		"version", version.String(),
		"statements", len(statements))

	return baseline, nil
}

// baselineFromExisting brings a legacy database under tracking without
// altering its structure. The existing tables are matched against the
// declared revisions: the longest prefix whose created tables all exist is
// taken as already applied and stamped, and everything after it is applied.
// Without declared revisions a baseline describing the existing tables is
// synthesized and recorded with the writer.
func (e *executor) baselineFromExisting(ctx context.Context, revisions []migration.Revision) (outcome, error) {
	snapshot, err := e.drv.InspectSchema(ctx)
	if err != nil {
		return outcome{}, err
	}

	statements, err := e.describeExisting(ctx, snapshot)
	if err != nil {
		return outcome{}, err
	}

	if len(revisions) == 0 {
		if len(statements) == 0 {
			return outcome{}, ErrNoBaseline
		}

		version, err := newBaselineVersion(time.Now())
		if err != nil {
			return outcome{}, err
		}

		baseline := migration.Revision{
			Migration:  migration.Migration{Version: version, Name: "baseline_from_existing"},
			Statements: statements,
		}
		if err := e.save(baseline); err != nil {
			return outcome{}, err
		}

		return e.applyAll(ctx, []migration.Revision{baseline})
	}

	matched := matchingPrefix(snapshot, revisions)
	if matched < 0 {
		return outcome{}, fmt.Errorf("%w: tables of %s_%s are not all present",
			ErrNoBaseline, revisions[0].Version, revisions[0].Name)
	}

	baseline := migration.Revision{
		Migration:  revisions[matched].Migration,
		Statements: statements,
	}

	e.logger.Info("existing tables match declared revisions, stamping baseline",
		"version", baseline.Version.String(),
		"name", baseline.Name,
		"matched_revisions", matched+1)

	out, err := e.applyAll(ctx, []migration.Revision{baseline})
	if err != nil {
		return out, err
	}

	rest, err := e.applyAll(ctx, revisions[matched+1:])
	out.applied = append(out.applied, rest.applied...)
	if err != nil {
		return out, err
	}

	out.head = headOf(revisions)
	return out, nil
}

// matchingPrefix returns the index of the last revision in the longest prefix
// whose CREATE TABLE targets all exist, or -1. A revision that creates no
// table ends the prefix, since nothing in the catalog can confirm it ran.
func matchingPrefix(snapshot migration.Snapshot, revisions []migration.Revision) int {
	matched := -1
	for i, rev := range revisions {
		created := ddl.CreatedTables(rev.Statements)
		if len(created) == 0 {
			break
		}

		for _, table := range created {
			if !snapshot.HasTable(table) {
				return matched
			}
		}

		matched = i
	}
	return matched
}

// describeExisting renders idempotent CREATE TABLE statements for every
// application table in the snapshot.
func (e *executor) describeExisting(ctx context.Context, snapshot migration.Snapshot) ([]string, error) {
	tracking := e.trackingTables()

	var statements []string
	for _, table := range snapshot.Tables() {
		if _, ok := tracking[strings.ToLower(table)]; ok {
			continue
		}

		columns, err := e.drv.InspectColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		if len(columns) == 0 {
			continue
		}

		statements = append(statements, e.createTableIfNotExists(table, columns))
	}

	return statements, nil
}

func (e *executor) createTableIfNotExists(table string, columns []migration.Column) string {
	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		def := e.drv.QuoteIdent(col.Name)
		if col.Type != "" {
			def += " " + col.Type
		}
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		e.drv.QuoteIdent(table), strings.Join(defs, ",\n    "))
}

func (e *executor) save(rev migration.Revision) error {
	if e.writer == nil {
		return nil
	}
	if err := e.writer.Save(rev); err != nil {
		return fmt.Errorf("failed to record revision %s_%s: %w", rev.Version, rev.Name, err)
	}
	return nil
}
