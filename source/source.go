package source

import (
	"errors"
	"fmt"

	"github.com/root-talis/schemagate/migration"
)

// Source supplies the declared, ordered revision list.
type Source interface {
	GetAvailableMigrations() ([]migration.Description, error)
	Revisions() ([]migration.Revision, error)
}

// Writer persists synthesized revisions (baselines) so that later runs see
// them as part of the declared list.
type Writer interface {
	// Init creates the bookkeeping location if it is missing.
	Init() error
	Save(rev migration.Revision) error
}

var (
	ErrMigrationDuplicated = errors.New("migration version already exists with different name")
)

// ---

type staticSource struct {
	revisions []migration.Revision
}

// NewStatic builds a Source from revisions compiled into the binary, such as
// Go-code revisions with an Apply function.
func NewStatic(revisions ...migration.Revision) (Source, error) {
	seen := make(map[migration.Version]string, len(revisions))
	for _, rev := range revisions {
		if name, dup := seen[rev.Version]; dup {
			return nil, fmt.Errorf("%w: %d is both %q and %q", ErrMigrationDuplicated, rev.Version, name, rev.Name)
		}
		seen[rev.Version] = rev.Name
	}

	sorted := make([]migration.Revision, len(revisions))
	copy(sorted, revisions)
	migration.SortRevisions(sorted)

	return &staticSource{revisions: sorted}, nil
}

func (s *staticSource) GetAvailableMigrations() ([]migration.Description, error) {
	result := make([]migration.Description, len(s.revisions))
	for i, rev := range s.revisions {
		result[i] = migration.Description{Migration: rev.Migration}
	}
	return result, nil
}

func (s *staticSource) Revisions() ([]migration.Revision, error) {
	result := make([]migration.Revision, len(s.revisions))
	copy(result, s.revisions)
	return result, nil
}
