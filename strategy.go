package schemagate

// Strategy is how the executor brings a database to the current schema.
type Strategy int

const (
	// StrategyComprehensive never assumes a clean baseline.
	StrategyComprehensive Strategy = iota
	// StrategyFreshInit initializes tracking and applies everything.
	StrategyFreshInit
	// StrategyCheckPending applies revisions newer than the stamp.
	StrategyCheckPending
)

func (s Strategy) String() string {
	switch s {
	case StrategyFreshInit:
		return "FRESH_INIT"
	case StrategyCheckPending:
		return "CHECK_PENDING"
	case StrategyComprehensive:
		return "COMPREHENSIVE"
	}
	return "COMPREHENSIVE"
}

// SelectStrategy is total: anything that is not FRESH or MIGRATED gets
// COMPREHENSIVE.
func SelectStrategy(state DatabaseState) Strategy {
	switch state {
	case StateFresh:
		return StrategyFreshInit
	case StateMigrated:
		return StrategyCheckPending
	case StateLegacy, StateUnknown:
		return StrategyComprehensive
	}
	return StrategyComprehensive
}
