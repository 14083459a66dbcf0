// Package schemagate brings a database of unknown provenance to the schema an
// application expects before the application is allowed to start. A run
// probes the database, classifies what it finds, picks a strategy, executes it
// under a lock and verifies the result.
package schemagate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/root-talis/schemagate/driver"
	"github.com/root-talis/schemagate/migration"
	"github.com/root-talis/schemagate/reconcile"
	"github.com/root-talis/schemagate/source"
)

// ---

type Gate interface {
	// Run performs one full migration run. A nil error means the database was
	// verified and the application may start.
	Run(ctx context.Context) (*RunResult, error)

	// Status compares the declared revisions with the migrations log.
	Status(ctx context.Context) (*StatusResult, error)
}

type RunResult struct {
	RunID    string
	State    DatabaseState
	Strategy Strategy
	Applied  []migration.Migration
	Stamp    migration.Version
	Duration time.Duration
}

// ---

type Option func(*gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithAnalyzer replaces the primary path of the COMPREHENSIVE strategy. A nil
// analyzer skips straight to the fallback chain.
func WithAnalyzer(analyzer Analyzer) Option {
	return func(g *gate) {
		g.analyzer = analyzer
		g.analyzerSet = true
	}
}

// WithWriter records synthesized baselines so that later runs treat them as
// declared revisions.
func WithWriter(writer source.Writer) Option {
	return func(g *gate) {
		g.writer = writer
	}
}

// ---

type gate struct {
	source   source.Source
	driver   driver.Driver
	writer   source.Writer
	analyzer Analyzer
	cfg      Config
	logger   *slog.Logger

	analyzerSet bool
}

func New(src source.Source, drv driver.Driver, cfg Config, opts ...Option) Gate {
	g := &gate{
		source: src,
		driver: drv,
		cfg:    cfg.normalized(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if !g.analyzerSet {
		g.analyzer = reconcile.New(reconcile.Options{
			TargetSchema:      g.cfg.TargetSchema,
			ConflictingTables: g.cfg.ConflictingTables,
			Logger:            g.logger,
		})
	}

	return g
}

// ---

func (g *gate) Run(ctx context.Context) (*RunResult, error) {
	started := time.Now()
	result := &RunResult{
		RunID: uuid.NewString(),
		State: StateUnknown,
	}

	logger := g.logger.With("run_id", result.RunID, "driver", g.driver.Name())

	revisions, err := g.source.Revisions()
	if err != nil {
		return nil, fmt.Errorf("failed to load declared revisions: %w", err)
	}
	logger.Info("starting migration run", "declared_revisions", len(revisions))

	if err := Probe(ctx, g.driver, g.cfg.ProbeAttempts, g.cfg.ProbeDelay, logger); err != nil {
		logger.Error("database never became reachable", "error", err)
		return nil, err
	}

	release, err := g.driver.Lock(ctx, g.cfg.LockKey)
	if err != nil {
		logger.Error("failed to acquire migration lock", "lock_key", g.cfg.LockKey, "error", err)
		return nil, err
	}
	defer release()
	logger.Debug("migration lock acquired", "lock_key", g.cfg.LockKey)

	snapshot, inspectErr := g.driver.InspectSchema(ctx)
	if inspectErr != nil {
		logger.Warn("schema inspection failed, treating state as unknown", "error", inspectErr)
	}

	result.State = Classify(snapshot, inspectErr)
	result.Strategy = SelectStrategy(result.State)

	logger = logger.With("state", result.State.String(), "strategy", result.Strategy.String())
	logger.Info("database classified",
		"tables", len(snapshot.Tables()),
		"has_version_table", snapshot.HasVersionTable(),
		"version_table_columns", snapshot.VersionTableColumns())

	exec := &executor{
		drv:      g.driver,
		writer:   g.writer,
		analyzer: g.analyzer,
		cfg:      g.cfg,
		logger:   logger,
	}

	out, err := exec.execute(ctx, result.Strategy, revisions)
	if err != nil {
		logger.Error("migration strategy failed", "error", err)
		return nil, fmt.Errorf("%s strategy failed for %s database: %w", result.Strategy, result.State, err)
	}
	result.Applied = out.applied

	stamp, err := Verify(ctx, g.driver, VerifyRequest{
		RequiredTables: g.cfg.RequiredTables,
		Head:           out.head,
	}, g.cfg.VerifyAttempts, g.cfg.VerifyDelay, logger)
	if err != nil {
		logger.Error("schema verification failed, refusing to start", "error", err)
		return nil, err
	}

	result.Stamp = stamp
	result.Duration = time.Since(started)

	logger.Info("migration run finished",
		"stamp", stamp.String(),
		"applied", len(result.Applied),
		"duration", result.Duration)

	return result, nil
}
