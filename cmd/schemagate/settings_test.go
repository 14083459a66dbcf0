package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freshCommand resets the global viper instance and rebinds the flags.
func freshCommand(t *testing.T) *cobra.Command {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("DATABASE_URL", "")
	t.Setenv("SCHEMAGATE_DATABASE_URL", "")

	return newRootCmd()
}

func TestLoadSettingsDefaults(t *testing.T) {
	freshCommand(t)
	t.Setenv("DATABASE_URL", "postgres://app:secret@db:5432/app")

	s, err := loadSettings()
	require.NoError(t, err)

	assert.Equal(t, "postgres://app:secret@db:5432/app", s.DatabaseURL)
	assert.Equal(t, "migrations", s.MigrationsDir)
	assert.Equal(t, []string{"users", "projects", "time_entries", "settings"}, s.Gate.RequiredTables)
	assert.Empty(t, s.Gate.ConflictingTables)
	assert.Equal(t, 60, s.Gate.ProbeAttempts)
	assert.Equal(t, 3*time.Second, s.Gate.ProbeDelay)
	assert.Equal(t, 3, s.Gate.VerifyAttempts)
	assert.Equal(t, 3*time.Second, s.Gate.VerifyDelay)
	assert.True(t, s.Gate.AllowBlindStamp)
	assert.Equal(t, "schemagate", s.Gate.LockKey)
	assert.Equal(t, "schema_version", s.Options.VersionTable)
	assert.Equal(t, "migrations_log", s.Options.LogTable)
}

func TestLoadSettingsFromEnvironment(t *testing.T) {
	freshCommand(t)

	schemaFile := filepath.Join(t.TempDir(), "schema.sql")
	require.NoError(t, os.WriteFile(schemaFile, []byte("CREATE TABLE users (id INTEGER);"), 0o644))

	t.Setenv("DATABASE_URL", "postgres://ignored@db/app")
	t.Setenv("SCHEMAGATE_DATABASE_URL", " sqlite:////data/app.db ")
	t.Setenv("SCHEMAGATE_REQUIRED_TABLES", "users, projects,settings")
	t.Setenv("SCHEMAGATE_CONFLICTING_TABLES", "alembic_version")
	t.Setenv("SCHEMAGATE_PROBE_ATTEMPTS", "5")
	t.Setenv("SCHEMAGATE_PROBE_DELAY", "250ms")
	t.Setenv("SCHEMAGATE_ALLOW_BLIND_STAMP", "false")
	t.Setenv("SCHEMAGATE_TARGET_SCHEMA", schemaFile)
	t.Setenv("SCHEMAGATE_EXEC", "gunicorn app:app")

	s, err := loadSettings()
	require.NoError(t, err)

	assert.Equal(t, "sqlite:////data/app.db", s.DatabaseURL)
	assert.Equal(t, []string{"users", "projects", "settings"}, s.Gate.RequiredTables)
	assert.Equal(t, []string{"alembic_version"}, s.Gate.ConflictingTables)
	assert.Equal(t, 5, s.Gate.ProbeAttempts)
	assert.Equal(t, 250*time.Millisecond, s.Gate.ProbeDelay)
	assert.False(t, s.Gate.AllowBlindStamp)
	assert.Equal(t, "CREATE TABLE users (id INTEGER);", s.Gate.TargetSchema)
	assert.Equal(t, "gunicorn app:app", s.Exec)
}

func TestLoadSettingsFlagsWinOverEnvironment(t *testing.T) {
	cmd := freshCommand(t)

	t.Setenv("DATABASE_URL", "postgres://env@db/app")
	t.Setenv("SCHEMAGATE_REQUIRED_TABLES", "users")

	require.NoError(t, cmd.PersistentFlags().Set("database-url", "mysql://flag@db/app"))
	require.NoError(t, cmd.PersistentFlags().Set("required-tables", "orders,invoices"))

	s, err := loadSettings()
	require.NoError(t, err)

	assert.Equal(t, "mysql://flag@db/app", s.DatabaseURL)
	assert.Equal(t, []string{"orders", "invoices"}, s.Gate.RequiredTables)
}

func TestLoadSettingsErrors(t *testing.T) {
	t.Run("missing connection target", func(t *testing.T) {
		freshCommand(t)

		_, err := loadSettings()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("unreadable target schema", func(t *testing.T) {
		freshCommand(t)
		t.Setenv("DATABASE_URL", "sqlite:///app.db")
		t.Setenv("SCHEMAGATE_TARGET_SCHEMA", filepath.Join(t.TempDir(), "missing.sql"))

		_, err := loadSettings()
		assert.ErrorContains(t, err, "failed to read target schema")
	})
}

var splitListTestsTable = []struct { // nolint:gochecknoglobals
	name     string
	values   []string
	expected []string
}{
	/* s0 */ {
		name:     "test s0: should keep repeated flag values",
		values:   []string{"users", "projects"},
		expected: []string{"users", "projects"},
	},
	/* s1 */ {
		name:     "test s1: should split a comma separated value",
		values:   []string{"users, projects ,settings"},
		expected: []string{"users", "projects", "settings"},
	},
	/* s2 */ {
		name:     "test s2: should drop empty items",
		values:   []string{",users,,", " "},
		expected: []string{"users"},
	},
	/* s3 */ {
		name:   "test s3: should return nothing for no values",
		values: nil,
	},
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	for _, test := range splitListTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, test.expected, splitList(test.values))
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("json at warn level", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := newLogger(&buf, "JSON", "warn")

		logger.Info("hidden")
		logger.Warn("shown", "attempt", 2)

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "shown", record["msg"])
		assert.Equal(t, "WARN", record["level"])
		assert.Equal(t, "schemagate", record["component"])
		assert.EqualValues(t, 2, record["attempt"])
	})

	t.Run("text with unknown level falls back to info", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := newLogger(&buf, "text", "verbose")

		logger.Debug("hidden")
		logger.Info("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "msg=shown")
		assert.Contains(t, buf.String(), "component=schemagate")
	})
}

func TestSourceOptions(t *testing.T) {
	t.Parallel()

	assert.Len(t, sourceOptions("mysql"), 1)
	assert.Empty(t, sourceOptions("postgres"))
	assert.Empty(t, sourceOptions("sqlite"))
}
