package driver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/schemagate/driver"
)

var parseTargetTestsTable = []struct { // nolint:gochecknoglobals
	name           string
	raw            string
	expectedScheme string
	expectedPath   string
	expectedHost   string
	expectError    bool
}{
	// -- success cases: ---
	/* s0 */ {
		name:           "test s0: postgres URI",
		raw:            "postgres://app:secret@db:5432/timetracker?sslmode=disable",
		expectedScheme: "postgres",
		expectedHost:   "db:5432",
	},
	/* s1 */ {
		name:           "test s1: mysql URI with upper-case scheme",
		raw:            "MySQL://root@localhost/app",
		expectedScheme: "mysql",
		expectedHost:   "localhost",
	},
	/* s2 */ {
		name:           "test s2: sqlite URI with absolute path",
		raw:            "sqlite:////data/app.db",
		expectedScheme: "sqlite",
		expectedPath:   "/data/app.db",
	},
	/* s3 */ {
		name:           "test s3: sqlite URI with relative path",
		raw:            "sqlite:///instance/app.db",
		expectedScheme: "sqlite",
		expectedPath:   "instance/app.db",
	},
	/* s4 */ {
		name:           "test s4: sqlite3 URI with query",
		raw:            "sqlite3://app.db?cache=shared",
		expectedScheme: "sqlite",
		expectedPath:   "app.db",
	},
	/* s5 */ {
		name:           "test s5: file URI",
		raw:            "file:data/app.sqlite?mode=rwc",
		expectedScheme: "sqlite",
		expectedPath:   "data/app.sqlite",
	},
	/* s6 */ {
		name:           "test s6: bare path",
		raw:            "./data/app.sqlite3",
		expectedScheme: "sqlite",
		expectedPath:   "data/app.sqlite3",
	},

	// -- error cases: ---
	/* e0 */ {
		name:        "test e0: empty target",
		raw:         "   ",
		expectError: true,
	},
	/* e1 */ {
		name:        "test e1: path without a known extension",
		raw:         "/data/app",
		expectError: true,
	},
	/* e2 */ {
		name:        "test e2: sqlite URI without path",
		raw:         "sqlite://",
		expectError: true,
	},
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	for _, test := range parseTargetTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			target, err := driver.ParseTarget(test.raw)

			if test.expectError {
				assert.ErrorIs(t, err, driver.ErrUnsupportedScheme)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expectedScheme, target.Scheme)
			assert.Equal(t, test.expectedPath, target.Path)

			if test.expectedHost != "" {
				require.NotNil(t, target.URL)
				assert.Equal(t, test.expectedHost, target.URL.Host)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	t.Parallel()

	target, err := driver.ParseTarget("postgres://app:secret@db:5432/timetracker")
	require.NoError(t, err)

	assert.NotContains(t, target.Redacted(), "secret")
	assert.Contains(t, target.Redacted(), "app")
}

func TestOpenUnregisteredScheme(t *testing.T) {
	t.Parallel()

	_, err := driver.Open("oracle://scott:tiger@db/orcl", driver.Options{})
	assert.ErrorIs(t, err, driver.ErrUnsupportedScheme)
}

func TestOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, driver.Options{VersionTable: "schema_version", LogTable: "migrations_log"},
		driver.Options{}.WithDefaults())
	assert.Equal(t, driver.Options{VersionTable: "alembic_version", LogTable: "migrations_log"},
		driver.Options{VersionTable: "alembic_version"}.WithDefaults())
}
