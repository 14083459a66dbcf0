package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/root-talis/schemagate"
	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/migration"
	"github.com/root-talis/schemagate/source/files"
)

type environment struct {
	settings settings
	logger   *slog.Logger
	driver   driver.Driver
	source   *files.Source
}

func setup() (*environment, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}

	logger := newLogger(os.Stderr, s.LogFormat, s.LogLevel)

	target, err := driver.ParseTarget(s.DatabaseURL)
	if err != nil {
		return nil, err
	}

	drv, err := driver.Open(s.DatabaseURL, s.Options)
	if err != nil {
		return nil, err
	}

	logger.Info("connection target resolved",
		"driver", drv.Name(),
		"target", target.Redacted(),
		"migrations_dir", s.MigrationsDir)

	return &environment{
		settings: s,
		logger:   logger,
		driver:   drv,
		source:   files.NewDirSource(s.MigrationsDir, sourceOptions(drv.Name())...),
	}, nil
}

// sourceOptions matches revision parsing to the string rules of the engine.
func sourceOptions(driverName string) []files.Option {
	if driverName == "mysql" {
		return []files.Option{files.WithBackslashEscapes()}
	}
	return nil
}

func (env *environment) gate() schemagate.Gate {
	return schemagate.New(env.source, env.driver, env.settings.Gate,
		schemagate.WithLogger(env.logger),
		schemagate.WithWriter(env.source),
	)
}

// runMigrate is the container entrypoint: migrate, verify, hand off.
func runMigrate(cmd *cobra.Command, args []string) error {
	env, err := setup()
	if err != nil {
		return err
	}

	result, err := env.gate().Run(cmd.Context())
	_ = env.driver.Close()
	if err != nil {
		return err
	}

	argv := args
	if len(argv) == 0 {
		argv = strings.Fields(env.settings.Exec)
	}
	if len(argv) == 0 {
		env.logger.Info("no application command given, exiting after migration",
			"state", result.State.String(),
			"strategy", result.Strategy.String(),
			"stamp", result.Stamp.String())
		return nil
	}

	env.logger.Info("handing off to application", "command", argv[0])
	return handOff(argv)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	env, err := setup()
	if err != nil {
		return err
	}
	defer env.driver.Close() //nolint:errcheck

	status, err := env.gate().Status(cmd.Context())
	if err != nil {
		return err
	}

	stamp := color.New(color.FgYellow).Sprint("(none)")
	if status.Stamp != nil {
		stamp = status.Stamp.String()
	}
	fmt.Printf("Current stamp: %s\n\n", stamp)

	for _, state := range status.Migrations {
		applied := ""
		if !state.AppliedAt.IsZero() {
			applied = state.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  %s  %s_%s  %s\n", statusLabel(state.Status), state.Version, state.Name, applied)
	}

	fmt.Printf("\n%d applied, %d pending, %d missing\n",
		status.AppliedCount, status.PendingCount, status.MissingCount)

	return nil
}

func statusLabel(s migration.Status) string {
	switch s {
	case migration.Applied:
		return color.New(color.FgGreen).Sprint("APPLIED")
	case migration.Pending:
		return color.New(color.FgYellow).Sprint("PENDING")
	case migration.Missing:
		return color.New(color.FgRed).Sprint("MISSING")
	}
	return s.String()
}

// runInspect reports the state and strategy a run would choose.
func runInspect(cmd *cobra.Command, _ []string) error {
	env, err := setup()
	if err != nil {
		return err
	}
	defer env.driver.Close() //nolint:errcheck

	if err := schemagate.Probe(cmd.Context(), env.driver, env.settings.Gate.ProbeAttempts,
		env.settings.Gate.ProbeDelay, env.logger); err != nil {
		return err
	}

	snapshot, inspectErr := env.driver.InspectSchema(cmd.Context())
	state := schemagate.Classify(snapshot, inspectErr)
	strategy := schemagate.SelectStrategy(state)

	fmt.Printf("State:    %s\n", color.New(color.FgCyan).Sprint(state))
	fmt.Printf("Strategy: %s\n", color.New(color.FgCyan).Sprint(strategy))
	if inspectErr != nil {
		fmt.Printf("Error:    %s\n", color.New(color.FgRed).Sprint(inspectErr))
		return nil
	}

	fmt.Printf("Version table: %t\n", snapshot.HasVersionTable())
	fmt.Println("Tables:")
	for _, table := range snapshot.Tables() {
		fmt.Printf("  %s\n", table)
	}

	return nil
}
