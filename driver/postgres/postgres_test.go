//nolint:gochecknoglobals
package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/driver/postgres"
	"github.com/root-talis/schemagate/migration"
)

// RDBMS versions to test against
var versions = []string{
	"postgres:16-alpine",
	"postgres:13-alpine",
}

const password = "schemagate"

func TestDriver(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping integration test for driver/postgres")
	}

	for _, version := range versions {
		version := version
		t.Run(version, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			url := startContainer(ctx, t, version)

			drv, err := driver.Open(url, driver.Options{})
			require.NoError(t, err)
			defer drv.Close() //nolint:errcheck

			require.NoError(t, drv.Ping(ctx))

			snapshot, err := drv.InspectSchema(ctx)
			require.NoError(t, err)
			assert.True(t, snapshot.Empty())

			require.NoError(t, drv.ApplyDDL(ctx, []string{
				"CREATE TYPE entry_kind AS ENUM ('work', 'break')",
				"CREATE TABLE users (id BIGSERIAL PRIMARY KEY, name VARCHAR(100) NOT NULL, kind entry_kind)",
				"INSERT INTO users (name) VALUES ('ada'), ('grace')",
			}))

			columns, err := drv.InspectColumns(ctx, "users")
			require.NoError(t, err)
			assert.Equal(t, []migration.Column{
				{Name: "id", Type: "bigint", Nullable: false},
				{Name: "name", Type: "character varying(100)", Nullable: false},
				{Name: "kind", Type: "entry_kind", Nullable: true},
			}, columns)

			release, err := drv.Lock(ctx, "schemagate")
			require.NoError(t, err)

			require.NoError(t, drv.InitTracking(ctx))
			require.NoError(t, drv.Stamp(ctx, migration.Migration{Version: 20240101000000, Name: "initial"}))

			next := migration.Revision{
				Migration: migration.Migration{Version: 20240201000000, Name: "projects"},
				Statements: []string{
					"CREATE TABLE projects (id BIGSERIAL PRIMARY KEY, user_id BIGINT NOT NULL REFERENCES users (id))",
				},
			}
			require.NoError(t, drv.Apply(ctx, next))

			broken := migration.Revision{
				Migration: migration.Migration{Version: 20240301000000, Name: "broken"},
				Statements: []string{
					"CREATE TABLE settings (key TEXT PRIMARY KEY)",
					"CREATE TABLE users (id BIGINT)",
				},
			}
			assert.Error(t, drv.Apply(ctx, broken))

			release()

			snapshot, err = drv.InspectSchema(ctx)
			require.NoError(t, err)
			assert.True(t, snapshot.HasVersionTable())
			assert.True(t, snapshot.HasTable("projects"))
			assert.False(t, snapshot.HasTable("settings"), "failed revision must roll back")

			stamps, err := drv.ReadStamps(ctx)
			require.NoError(t, err)
			assert.Equal(t, []migration.Version{next.Version}, stamps)

			log, err := drv.ListMigrationsLog(ctx)
			require.NoError(t, err)
			require.Len(t, log, 2)
			assert.Equal(t, migration.Stamp, log[0].Direction)
			assert.Equal(t, next.Migration, log[1].Migration)
			assert.WithinDuration(t, time.Now(), log[1].AppliedAt, time.Hour)
		})
	}
}

func TestLockIsExclusive(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping integration test for driver/postgres")
	}

	ctx := context.Background()
	url := startContainer(ctx, t, versions[0])

	first, err := driver.Open(url, driver.Options{})
	require.NoError(t, err)
	defer first.Close() //nolint:errcheck

	second, err := driver.Open(url, driver.Options{})
	require.NoError(t, err)
	defer second.Close() //nolint:errcheck

	release, err := first.Lock(ctx, "schemagate")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		releaseSecond, err := second.Lock(ctx, "schemagate")
		if err == nil {
			releaseSecond()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first one is held")
	case <-time.After(500 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(30 * time.Second):
		t.Fatal("second lock was never acquired")
	}
}

func TestLockID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, postgres.LockID("schemagate"), postgres.LockID("schemagate"))
	assert.NotEqual(t, postgres.LockID("schemagate"), postgres.LockID("other"))
	assert.Positive(t, postgres.LockID("schemagate"))
}

//
// --- utility stuff ---------------------
//

func startContainer(ctx context.Context, t *testing.T, version string) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        version,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       "timetracker",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := pgC.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate test container: %s", err)
		}
	})

	endpoint, err := pgC.Endpoint(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	url := fmt.Sprintf("postgres://postgres:%s@%s/timetracker?sslmode=disable", password, endpoint)

	// the port may accept connections a moment before the server does
	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	defer db.Close()

	require.Eventually(t, func() bool {
		return db.PingContext(ctx) == nil
	}, 30*time.Second, 200*time.Millisecond)

	return url
}
