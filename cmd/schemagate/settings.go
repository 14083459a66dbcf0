package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/root-talis/schemagate"
	"github.com/root-talis/schemagate/driver"
)

// settings is everything the command reads from flags and the environment.
type settings struct {
	DatabaseURL   string
	MigrationsDir string
	TargetSchema  string
	Exec          string
	LogFormat     string
	LogLevel      string

	Gate    schemagate.Config
	Options driver.Options
}

// loadSettings reads configuration from viper, which merges flag values, env
// vars and defaults.
func loadSettings() (settings, error) {
	s := settings{
		DatabaseURL:   strings.TrimSpace(viper.GetString("database_url")),
		MigrationsDir: viper.GetString("migrations_dir"),
		TargetSchema:  viper.GetString("target_schema"),
		Exec:          viper.GetString("exec"),
		LogFormat:     viper.GetString("log_format"),
		LogLevel:      viper.GetString("log_level"),
		Gate: schemagate.Config{
			ProbeAttempts:     viper.GetInt("probe_attempts"),
			ProbeDelay:        viper.GetDuration("probe_delay"),
			VerifyAttempts:    viper.GetInt("verify_attempts"),
			VerifyDelay:       viper.GetDuration("verify_delay"),
			RequiredTables:    splitList(viper.GetStringSlice("required_tables")),
			ConflictingTables: splitList(viper.GetStringSlice("conflicting_tables")),
			AllowBlindStamp:   viper.GetBool("allow_blind_stamp"),
			LockKey:           viper.GetString("lock_key"),
		},
		Options: driver.Options{
			VersionTable: viper.GetString("version_table"),
			LogTable:     viper.GetString("log_table"),
		},
	}

	if s.DatabaseURL == "" {
		return s, fmt.Errorf("no connection target: set DATABASE_URL or --database-url")
	}

	if s.TargetSchema != "" {
		content, err := os.ReadFile(s.TargetSchema)
		if err != nil {
			return s, fmt.Errorf("failed to read target schema: %w", err)
		}
		s.Gate.TargetSchema = string(content)
	}

	return s, nil
}

// splitList accepts both repeated flags and a single comma separated env var.
func splitList(values []string) []string {
	var result []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				result = append(result, item)
			}
		}
	}
	return result
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With("component", "schemagate")
}
