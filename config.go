package schemagate

import "time"

// Config is built once at startup and never changes during a run.
type Config struct {
	// ProbeAttempts and ProbeDelay bound the wait for the database to come up.
	ProbeAttempts int
	ProbeDelay    time.Duration

	// VerifyAttempts and VerifyDelay bound the post-execution check.
	VerifyAttempts int
	VerifyDelay    time.Duration

	// RequiredTables must all exist after a run.
	RequiredTables []string

	// TargetSchema is the DDL of the schema the application expects. It is
	// used to synthesize a baseline for an empty database and by the default
	// analyzer to reconcile a legacy one.
	TargetSchema string

	// ConflictingTables are names whose presence means the legacy schema
	// cannot be reconciled automatically.
	ConflictingTables []string

	// AllowBlindStamp keeps the last-resort fallback that stamps a legacy
	// database with the earliest declared revision without checking its
	// columns.
	AllowBlindStamp bool

	// LockKey names the lock held from inspection until verification.
	LockKey string
}

const (
	DefaultProbeAttempts  = 60
	DefaultProbeDelay     = 3 * time.Second
	DefaultVerifyAttempts = 3
	DefaultVerifyDelay    = 3 * time.Second
	DefaultLockKey        = "schemagate"
)

func DefaultConfig() Config {
	return Config{
		ProbeAttempts:   DefaultProbeAttempts,
		ProbeDelay:      DefaultProbeDelay,
		VerifyAttempts:  DefaultVerifyAttempts,
		VerifyDelay:     DefaultVerifyDelay,
		AllowBlindStamp: true,
		LockKey:         DefaultLockKey,
	}
}

// normalized fills zero values with defaults and copies slices so that the
// caller cannot mutate a running configuration.
func (c Config) normalized() Config {
	if c.ProbeAttempts < 1 {
		c.ProbeAttempts = DefaultProbeAttempts
	}
	if c.ProbeDelay < 0 {
		c.ProbeDelay = DefaultProbeDelay
	}
	if c.VerifyAttempts < 1 {
		c.VerifyAttempts = DefaultVerifyAttempts
	}
	if c.VerifyDelay < 0 {
		c.VerifyDelay = DefaultVerifyDelay
	}
	if c.LockKey == "" {
		c.LockKey = DefaultLockKey
	}

	c.RequiredTables = append([]string(nil), c.RequiredTables...)
	c.ConflictingTables = append([]string(nil), c.ConflictingTables...)

	return c
}
