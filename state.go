package schemagate

import "github.com/root-talis/schemagate/migration"

// DatabaseState is what an inspection says about the target database.
type DatabaseState int

const (
	// StateUnknown means inspection failed or could not be trusted.
	StateUnknown DatabaseState = iota
	// StateFresh means there are no tables at all.
	StateFresh
	// StateMigrated means the version table exists.
	StateMigrated
	// StateLegacy means there are tables but no version table.
	StateLegacy
)

func (s DatabaseState) String() string {
	switch s {
	case StateFresh:
		return "FRESH"
	case StateMigrated:
		return "MIGRATED"
	case StateLegacy:
		return "LEGACY"
	case StateUnknown:
		return "UNKNOWN"
	}
	return "UNKNOWN"
}

// Classify maps an inspection result to a state. The version table wins over
// everything else, so a database holding it is MIGRATED whatever else it has.
func Classify(snapshot migration.Snapshot, inspectErr error) DatabaseState {
	switch {
	case inspectErr != nil:
		return StateUnknown
	case snapshot.HasVersionTable():
		return StateMigrated
	case snapshot.Empty():
		return StateFresh
	default:
		return StateLegacy
	}
}
