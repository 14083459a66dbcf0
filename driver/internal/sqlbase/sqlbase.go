// Package sqlbase implements the engine-neutral part of a schemagate driver on
// top of database/sql. Engines supply a Dialect and add Ping and Lock.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/migration"
)

// Dialect describes how an engine spells the handful of statements the base
// needs. Queries and DDL templates take the quoted table name through %s.
type Dialect struct {
	Name        string
	Placeholder func(n int) string
	Quote       func(ident string) string

	// TablesQuery lists base tables of the default schema, one name per row.
	TablesQuery string
	// ColumnsQuery takes the table name as its only parameter and returns
	// (name, type, 'YES'|'NO' nullable) rows in ordinal order.
	ColumnsQuery string

	VersionTableDDL string
	LogTableDDL     string
}

type Base struct {
	DB      *sql.DB
	Dialect Dialect
	Options driver.Options
}

func New(db *sql.DB, dialect Dialect, opts driver.Options) *Base {
	return &Base{
		DB:      db,
		Dialect: dialect,
		Options: opts.WithDefaults(),
	}
}

func (b *Base) Name() string {
	return b.Dialect.Name
}

func (b *Base) QuoteIdent(ident string) string {
	return b.Dialect.Quote(ident)
}

func (b *Base) TrackingTables() []string {
	return []string{b.Options.VersionTable, b.Options.LogTable}
}

func (b *Base) Close() error {
	return b.DB.Close()
}

// --- inspection ---

func (b *Base) InspectSchema(ctx context.Context) (migration.Snapshot, error) {
	tables, err := b.listTables(ctx)
	if err != nil {
		return migration.Snapshot{}, fmt.Errorf("%w: %s", driver.ErrInspection, err.Error())
	}

	versionTable, hasVersionTable := findTable(tables, b.Options.VersionTable)

	var columnNames []string
	if hasVersionTable {
		columns, err := b.InspectColumns(ctx, versionTable)
		if err != nil {
			return migration.Snapshot{}, err
		}
		for _, c := range columns {
			columnNames = append(columnNames, c.Name)
		}
	}

	return migration.NewSnapshot(tables, hasVersionTable, columnNames), nil
}

func (b *Base) InspectColumns(ctx context.Context, table string) ([]migration.Column, error) {
	rows, err := b.DB.QueryContext(ctx, b.Dialect.ColumnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list columns of %s: %s", driver.ErrInspection, table, err.Error())
	}
	defer rows.Close()

	var result []migration.Column
	for rows.Next() {
		var (
			col      migration.Column
			nullable string
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable); err != nil {
			return nil, fmt.Errorf("%w: failed to read columns of %s: %s", driver.ErrInspection, table, err.Error())
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		result = append(result, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read columns of %s: %s", driver.ErrInspection, table, err.Error())
	}

	return result, nil
}

func (b *Base) listTables(ctx context.Context) ([]string, error) {
	rows, err := b.DB.QueryContext(ctx, b.Dialect.TablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to read table list: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table list: %w", err)
	}

	return tables, nil
}

func findTable(tables []string, name string) (string, bool) {
	for _, t := range tables {
		if strings.EqualFold(t, name) {
			return t, true
		}
	}
	return "", false
}

// --- tracking ---

func (b *Base) InitTracking(ctx context.Context) error {
	versionTable := b.Dialect.Quote(b.Options.VersionTable)
	if _, err := b.DB.ExecContext(ctx, fmt.Sprintf(b.Dialect.VersionTableDDL, versionTable)); err != nil {
		return fmt.Errorf("failed to create version table %s: %w", versionTable, err)
	}

	logTable := b.Dialect.Quote(b.Options.LogTable)
	if _, err := b.DB.ExecContext(ctx, fmt.Sprintf(b.Dialect.LogTableDDL, logTable)); err != nil {
		return fmt.Errorf("failed to create migrations log table %s: %w", logTable, err)
	}

	return nil
}

func (b *Base) ReadStamps(ctx context.Context) ([]migration.Version, error) {
	rows, err := b.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT version_num FROM %s",
		b.Dialect.Quote(b.Options.VersionTable),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to read version table: %w", err)
	}
	defer rows.Close()

	var result []migration.Version
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to read version table: %w", err)
		}
		version, err := migration.ParseVersion(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", driver.ErrInvalidStamp, raw)
		}
		result = append(result, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read version table: %w", err)
	}

	return result, nil
}

func (b *Base) Apply(ctx context.Context, rev migration.Revision) error {
	started := time.Now().UTC()

	return b.inTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range rev.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("revision %s_%s, statement %d: %w", rev.Version, rev.Name, i+1, err)
			}
		}

		if rev.Apply != nil {
			if err := rev.Apply(ctx, tx); err != nil {
				return fmt.Errorf("revision %s_%s: %w", rev.Version, rev.Name, err)
			}
		}

		if err := b.writeStamp(ctx, tx, rev.Migration); err != nil {
			return err
		}

		return b.writeLog(ctx, tx, rev.Migration, migration.Up, started)
	})
}

func (b *Base) ApplyDDL(ctx context.Context, statements []string) error {
	return b.inTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d (%s): %w", i+1, abbreviate(stmt), err)
			}
		}
		return nil
	})
}

func (b *Base) Stamp(ctx context.Context, mig migration.Migration) error {
	started := time.Now().UTC()

	return b.inTx(ctx, func(tx *sql.Tx) error {
		if err := b.writeStamp(ctx, tx, mig); err != nil {
			return err
		}
		return b.writeLog(ctx, tx, mig, migration.Stamp, started)
	})
}

func (b *Base) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (b *Base) writeStamp(ctx context.Context, tx *sql.Tx, mig migration.Migration) error {
	versionTable := b.Dialect.Quote(b.Options.VersionTable)

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+versionTable); err != nil {
		return fmt.Errorf("failed to clear version table %s: %w", versionTable, err)
	}

	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (version_num) VALUES (%s)", versionTable, b.Dialect.Placeholder(1)),
		mig.Version.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to stamp version %s: %w", mig.Version, err)
	}

	return nil
}

func (b *Base) writeLog(ctx context.Context, tx *sql.Tx, mig migration.Migration, dir migration.Direction, started time.Time) error {
	ph := b.Dialect.Placeholder
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf(
			"INSERT INTO %s (version, migration_name, direction, start_time, end_time) VALUES (%s, %s, %s, %s, %s)",
			b.Dialect.Quote(b.Options.LogTable), ph(1), ph(2), ph(3), ph(4), ph(5),
		),
		int64(mig.Version), mig.Name, string(dir), started, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write migrations log: %w", err)
	}
	return nil
}

// --- log ---

func (b *Base) ListMigrationsLog(ctx context.Context) ([]migration.Log, error) {
	tables, err := b.listTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied versions: %w", err)
	}
	logTable, ok := findTable(tables, b.Options.LogTable)
	if !ok {
		return []migration.Log{}, nil
	}

	rows, err := b.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT version, migration_name, direction, start_time FROM %s ORDER BY id",
		b.Dialect.Quote(logTable),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to list applied versions: %w", err)
	}
	defer rows.Close()

	return fetchMigrationsLog(rows)
}

func fetchMigrationsLog(rows *sql.Rows) ([]migration.Log, error) {
	result := make([]migration.Log, 0)
	for rows.Next() {
		var (
			log       migration.Log
			version   int64
			name      sql.NullString
			direction sql.NullString
			appliedAt sql.NullString
		)

		if err := rows.Scan(&version, &name, &direction, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to query migrations log table: %w", err)
		}

		log.Version = migration.Version(version)
		log.Name = name.String

		switch strings.ToLower(strings.TrimSpace(direction.String)) {
		case "u":
			log.Direction = migration.Up
		case "d":
			log.Direction = migration.Down
		case "s":
			log.Direction = migration.Stamp
		default:
			return nil, fmt.Errorf("%w: direction \"%s\" is unknown", driver.ErrInvalidLogTable, direction.String)
		}

		log.AppliedAt = parseTimestamp(appliedAt.String)

		result = append(result, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query migrations log table: %w", err)
	}

	return result, nil
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
}

func parseTimestamp(raw string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func abbreviate(stmt string) string {
	const max = 60
	stmt = strings.Join(strings.Fields(stmt), " ")
	if len(stmt) > max {
		return stmt[:max] + "..."
	}
	return stmt
}
