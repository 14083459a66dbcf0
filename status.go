package schemagate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/root-talis/schemagate/migration"
)

type StatusResult struct {
	Migrations   []migration.State
	AppliedCount uint
	PendingCount uint
	MissingCount uint
	// Stamp is the current value of the version table, nil when there is none.
	Stamp *migration.Version
}

func (g *gate) Status(ctx context.Context) (*StatusResult, error) {
	availableMigrations, err := g.source.GetAvailableMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of available migrations: %w", err)
	}

	appliedMigrations, err := g.loadMigrationsFromLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get the list of applied migrations: %w", err)
	}

	stamp, err := g.currentStamp(ctx)
	if err != nil {
		return nil, err
	}

	return buildStatus(availableMigrations, appliedMigrations, stamp), nil
}

// buildStatus merges what the source declares with what the log says ran. A
// declared revision not in the log but at or below the stamp counts as
// applied: it was covered by a baseline stamp.
func buildStatus(available []migration.Description, applied map[migration.Version]migration.State, stamp *migration.Version) *StatusResult {
	result := StatusResult{
		Migrations: make([]migration.State, 0, len(available)),
		Stamp:      stamp,
	}

	declared := make(map[migration.Version]struct{}, len(available))
	for _, availableMigration := range available {
		declared[availableMigration.Version] = struct{}{}

		entry, ok := applied[availableMigration.Version]

		var status migration.Status
		if ok {
			status = entry.Status
		} else {
			status = migration.Pending
		}

		if status == migration.Pending && stamp != nil && availableMigration.Version <= *stamp {
			status = migration.Applied
		}

		if status == migration.Pending {
			result.PendingCount++
		} else {
			result.AppliedCount++
		}

		result.Migrations = append(result.Migrations, migration.State{
			Description: availableMigration,
			Status:      status,
			AppliedAt:   entry.AppliedAt,
		})
	}

	for _, entry := range applied {
		if _, found := declared[entry.Version]; found {
			continue
		}

		entry.Description.CanUndo = false
		result.Migrations = append(result.Migrations, migration.State{
			Description: entry.Description,
			Status:      migration.Missing,
			AppliedAt:   entry.AppliedAt,
		})
		result.MissingCount++
	}

	sort.Slice(result.Migrations, func(i, j int) bool {
		return result.Migrations[i].Version < result.Migrations[j].Version
	})

	return &result
}

func (g *gate) loadMigrationsFromLog(ctx context.Context) (map[migration.Version]migration.State, error) {
	migrations, err := g.driver.ListMigrationsLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations from db: %w", err)
	}

	return replayLog(migrations), nil
}

// replayLog folds the log in order, so the last entry for a version wins.
func replayLog(migrations []migration.Log) map[migration.Version]migration.State {
	result := make(map[migration.Version]migration.State, len(migrations))
	for _, mig := range migrations {
		var status migration.Status
		var appliedAt time.Time

		switch mig.Direction {
		case migration.Up, migration.Stamp:
			status = migration.Applied
			appliedAt = mig.AppliedAt
		case migration.Down:
			status = migration.Pending
		}

		result[mig.Version] = migration.State{
			Description: migration.Description{
				Migration: mig.Migration,
				CanUndo:   false,
			},
			Status:    status,
			AppliedAt: appliedAt,
		}
	}

	return result
}

func (g *gate) currentStamp(ctx context.Context) (*migration.Version, error) {
	snapshot, err := g.driver.InspectSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if !snapshot.HasVersionTable() {
		return nil, nil
	}

	stamps, err := g.driver.ReadStamps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current stamp: %w", err)
	}

	switch len(stamps) {
	case 0:
		return nil, nil
	case 1:
		return &stamps[0], nil
	default:
		return nil, fmt.Errorf("%w: found %d", ErrMultipleStamps, len(stamps))
	}
}
