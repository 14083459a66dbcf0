package driver

import (
	"context"
	"errors"

	"github.com/root-talis/schemagate/migration"
)

// Driver is the engine-specific half of schemagate. One implementation exists
// per supported engine; it is chosen once from the connection target scheme.
type Driver interface {
	// Name returns the engine name, e.g. "postgres".
	Name() string

	// Ping performs a minimal round-trip (or, for file-backed engines, a
	// writability check) and reports whether the database is usable.
	Ping(ctx context.Context) error

	// InspectSchema lists the tables of the default schema and whether the
	// version table exists. A database that does not exist yet yields an
	// empty snapshot.
	InspectSchema(ctx context.Context) (migration.Snapshot, error)

	// InspectColumns returns column-level detail for one table.
	InspectColumns(ctx context.Context, table string) ([]migration.Column, error)

	// InitTracking creates the version table and the migrations log if they
	// are absent.
	InitTracking(ctx context.Context) error

	// ReadStamps returns every value in the version table.
	ReadStamps(ctx context.Context) ([]migration.Version, error)

	// Apply runs a revision and stamps it as current in one transaction.
	Apply(ctx context.Context, rev migration.Revision) error

	// ApplyDDL runs statements in one transaction without touching the stamp.
	ApplyDDL(ctx context.Context, statements []string) error

	// Stamp records mig as current without running anything.
	Stamp(ctx context.Context, mig migration.Migration) error

	ListMigrationsLog(ctx context.Context) ([]migration.Log, error)

	// TrackingTables names the tables the driver itself maintains.
	TrackingTables() []string

	// Lock takes an exclusive lock named key that other schemagate processes
	// against the same database respect.
	Lock(ctx context.Context, key string) (release func(), err error)

	// QuoteIdent quotes an identifier for this engine.
	QuoteIdent(ident string) string

	Close() error
}

var (
	ErrInvalidLogTable   = errors.New("an error has occurred when reading log table")
	ErrInvalidStamp      = errors.New("version table holds a value that is not a revision identifier")
	ErrInspection        = errors.New("schema inspection failed")
	ErrUnsupportedScheme = errors.New("unsupported connection target scheme")
)
