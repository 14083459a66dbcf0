// Package postgres is the schemagate driver for PostgreSQL, built on pgx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3/lock"

	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/driver/internal/sqlbase"
)

func init() {
	driver.Register(open, "postgres", "postgresql", "pgx")
}

var dialect = sqlbase.Dialect{
	Name: "postgres",
	Placeholder: func(n int) string {
		return "$" + strconv.Itoa(n)
	},
	Quote: quoteIdent,
	TablesQuery: "SELECT table_name FROM information_schema.tables " +
		"WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name",
	ColumnsQuery: "SELECT a.attname, format_type(a.atttypid, a.atttypmod), " +
		"CASE WHEN a.attnotnull THEN 'NO' ELSE 'YES' END " +
		"FROM pg_catalog.pg_attribute a " +
		"JOIN pg_catalog.pg_class c ON c.oid = a.attrelid " +
		"JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace " +
		"WHERE n.nspname = current_schema() AND c.relname = $1 AND a.attnum > 0 AND NOT a.attisdropped " +
		"ORDER BY a.attnum",
	VersionTableDDL: "CREATE TABLE IF NOT EXISTS %s (" +
		"version_num VARCHAR(32) NOT NULL PRIMARY KEY" +
		")",
	LogTableDDL: "CREATE TABLE IF NOT EXISTS %s (" +
		"id             BIGSERIAL PRIMARY KEY, " +
		"version        BIGINT, " +
		"migration_name VARCHAR(100) NULL, " +
		"direction      CHAR(1) NULL, " + // "u", "d" or "s"
		"start_time     TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL, " +
		"end_time       TIMESTAMP NULL" +
		")",
}

type Driver struct {
	*sqlbase.Base
}

func open(target driver.Target, opts driver.Options) (driver.Driver, error) {
	dsn := target.Raw
	if target.Scheme == "pgx" {
		dsn = "postgres" + strings.TrimPrefix(dsn, "pgx")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	return New(db, opts), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, opts driver.Options) *Driver {
	return &Driver{Base: sqlbase.New(db, dialect, opts)}
}

func (drv *Driver) Ping(ctx context.Context) error {
	var one int
	if err := drv.DB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres is not reachable: %w", err)
	}
	return nil
}

// Lock takes a session-level advisory lock on a dedicated connection. The
// lock id is derived from key, so every schemagate process using the same key
// contends for the same lock.
func (drv *Driver) Lock(ctx context.Context, key string) (func(), error) {
	locker, err := lock.NewPostgresSessionLocker(lock.WithLockID(LockID(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to create advisory locker: %w", err)
	}

	conn, err := drv.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve a connection for the advisory lock: %w", err)
	}

	if err := locker.SessionLock(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to acquire advisory lock %q: %w", key, err)
	}

	release := func() {
		_ = locker.SessionUnlock(context.Background(), conn)
		_ = conn.Close()
	}

	return release, nil
}

// LockID hashes a lock key into a positive advisory lock id with FNV-1a.
func LockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // truncation is the point
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
