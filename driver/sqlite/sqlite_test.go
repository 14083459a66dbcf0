package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/driver/sqlite"
	"github.com/root-talis/schemagate/migration"
)

func openTemp(t *testing.T) (*sqlite.Driver, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.db")
	drv, err := sqlite.Open(path, driver.Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = drv.Close()
	})

	return drv, path
}

func TestInspectMissingFile(t *testing.T) {
	t.Parallel()

	drv, path := openTemp(t)

	snapshot, err := drv.InspectSchema(context.Background())
	require.NoError(t, err)
	assert.True(t, snapshot.Empty())
	assert.False(t, snapshot.HasVersionTable())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "inspection must not create the database file")
}

func TestPing(t *testing.T) {
	t.Parallel()

	t.Run("writable directory", func(t *testing.T) {
		t.Parallel()

		drv, _ := openTemp(t)
		assert.NoError(t, drv.Ping(context.Background()))
	})

	t.Run("missing directory", func(t *testing.T) {
		t.Parallel()

		drv, err := sqlite.Open(filepath.Join(t.TempDir(), "nope", "app.db"), driver.Options{})
		require.NoError(t, err)
		defer drv.Close() //nolint:errcheck

		assert.Error(t, drv.Ping(context.Background()))
	})
}

func TestTracking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	drv, _ := openTemp(t)

	require.NoError(t, drv.InitTracking(ctx))
	require.NoError(t, drv.InitTracking(ctx), "tracking init must be idempotent")

	snapshot, err := drv.InspectSchema(ctx)
	require.NoError(t, err)
	assert.True(t, snapshot.HasVersionTable())
	assert.Equal(t, []string{"version_num"}, snapshot.VersionTableColumns())
	assert.ElementsMatch(t, []string{"schema_version", "migrations_log"}, drv.TrackingTables())

	stamps, err := drv.ReadStamps(ctx)
	require.NoError(t, err)
	assert.Empty(t, stamps)

	initial := migration.Revision{
		Migration:  migration.Migration{Version: 20240101000000, Name: "initial"},
		Statements: []string{"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"},
	}
	require.NoError(t, drv.Apply(ctx, initial))

	broken := migration.Revision{
		Migration: migration.Migration{Version: 20240201000000, Name: "broken"},
		Statements: []string{
			"CREATE TABLE projects (id INTEGER PRIMARY KEY)",
			"CREATE TABLE users (id INTEGER)",
		},
	}
	assert.Error(t, drv.Apply(ctx, broken))

	snapshot, err = drv.InspectSchema(ctx)
	require.NoError(t, err)
	assert.True(t, snapshot.HasTable("users"))
	assert.False(t, snapshot.HasTable("projects"), "failed revision must roll back")

	stamps, err = drv.ReadStamps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{initial.Version}, stamps)

	require.NoError(t, drv.Stamp(ctx, broken.Migration))

	stamps, err = drv.ReadStamps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{broken.Version}, stamps)

	log, err := drv.ListMigrationsLog(ctx)
	require.NoError(t, err)
	require.Len(t, log, 2)

	assert.Equal(t, initial.Migration, log[0].Migration)
	assert.Equal(t, migration.Up, log[0].Direction)
	assert.Equal(t, broken.Migration, log[1].Migration)
	assert.Equal(t, migration.Stamp, log[1].Direction)
	assert.WithinDuration(t, time.Now(), log[1].AppliedAt, time.Minute)
}

func TestInspectColumns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	drv, _ := openTemp(t)

	require.NoError(t, drv.ApplyDDL(ctx, []string{
		"CREATE TABLE time_entries (id INTEGER PRIMARY KEY, minutes INTEGER NOT NULL, note VARCHAR(200))",
	}))

	columns, err := drv.InspectColumns(ctx, "time_entries")
	require.NoError(t, err)

	assert.Equal(t, []migration.Column{
		{Name: "id", Type: "INTEGER", Nullable: true},
		{Name: "minutes", Type: "INTEGER", Nullable: false},
		{Name: "note", Type: "VARCHAR(200)", Nullable: true},
	}, columns)
}

func TestListMigrationsLogWithoutTable(t *testing.T) {
	t.Parallel()

	drv, _ := openTemp(t)
	require.NoError(t, drv.Ping(context.Background()))

	log, err := drv.ListMigrationsLog(context.Background())
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestLock(t *testing.T) {
	t.Parallel()

	drv, path := openTemp(t)

	other, err := sqlite.Open(path, driver.Options{})
	require.NoError(t, err)
	defer other.Close() //nolint:errcheck

	release, err := drv.Lock(context.Background(), "schemagate")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		releaseOther, err := other.Lock(context.Background(), "schemagate")
		if err == nil {
			releaseOther()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first one is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second lock was never acquired")
	}
}
