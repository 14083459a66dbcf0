// Package sqlite is the schemagate driver for embedded SQLite databases,
// built on the cgo-free modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/driver/internal/sqlbase"
	"github.com/root-talis/schemagate/migration"
)

func init() {
	driver.Register(open, "sqlite")
}

var dialect = sqlbase.Dialect{
	Name: "sqlite",
	Placeholder: func(int) string {
		return "?"
	},
	Quote: quoteIdent,
	TablesQuery: "SELECT name FROM sqlite_master " +
		"WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name",
	ColumnsQuery: `SELECT name, type, CASE WHEN "notnull" = 0 THEN 'YES' ELSE 'NO' END ` +
		"FROM pragma_table_info(?) ORDER BY cid",
	VersionTableDDL: "CREATE TABLE IF NOT EXISTS %s (" +
		"version_num VARCHAR(32) NOT NULL PRIMARY KEY" +
		")",
	LogTableDDL: "CREATE TABLE IF NOT EXISTS %s (" +
		"id             INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"version        BIGINT, " +
		"migration_name VARCHAR(100) NULL, " +
		"direction      CHAR(1) NULL, " + // "u", "d" or "s"
		"start_time     DATETIME DEFAULT CURRENT_TIMESTAMP NOT NULL, " +
		"end_time       DATETIME NULL" +
		")",
}

type Driver struct {
	*sqlbase.Base
	path string
}

func open(target driver.Target, opts driver.Options) (driver.Driver, error) {
	return Open(target.Path, opts)
}

// Open opens (without creating) the database file at path.
func Open(path string, opts driver.Options) (*Driver, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	return &Driver{
		Base: sqlbase.New(db, dialect, opts),
		path: path,
	}, nil
}

// Ping checks that the directory holding the database is writable, then
// runs a trivial query. The query creates the file if it is missing.
func (drv *Driver) Ping(ctx context.Context) error {
	dir := filepath.Dir(drv.path)

	probe, err := os.CreateTemp(dir, ".schemagate-probe-*")
	if err != nil {
		return fmt.Errorf("database directory %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("database directory %s is not writable: %w", dir, err)
	}

	var one int
	if err := drv.DB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("sqlite database %s is not usable: %w", drv.path, err)
	}

	return nil
}

// InspectSchema reports an empty snapshot for a database file that does not
// exist yet instead of creating it.
func (drv *Driver) InspectSchema(ctx context.Context) (migration.Snapshot, error) {
	if _, err := os.Stat(drv.path); errors.Is(err, os.ErrNotExist) {
		return migration.NewSnapshot(nil, false, nil), nil
	} else if err != nil {
		return migration.Snapshot{}, fmt.Errorf("%w: %s", driver.ErrInspection, err.Error())
	}

	return drv.Base.InspectSchema(ctx)
}

// Lock takes an exclusive lock on a sibling <database>.lock file, so runs
// against the same file exclude each other across processes and containers
// sharing the volume.
func (drv *Driver) Lock(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire sqlite lock: %w", err)
	}

	key, err := filepath.Abs(drv.path)
	if err != nil {
		key = drv.path
	}

	return lockFile(ctx, key+".lock")
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
