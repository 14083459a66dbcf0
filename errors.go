package schemagate

import "errors"

var (
	ErrProbeFailed        = errors.New("database did not become reachable")
	ErrNoRevisions        = errors.New("no revisions declared and no target schema to synthesize a baseline from")
	ErrUnknownRevision    = errors.New("stamped revision is not in the declared revision list")
	ErrMultipleStamps     = errors.New("version table holds more than one stamp")
	ErrNoBaseline         = errors.New("existing tables do not match any declared revision")
	ErrBlindStampDisabled = errors.New("last-resort stamp of the earliest revision is disabled")
	ErrStrategyExhausted  = errors.New("every migration path failed")
	ErrVerificationFailed = errors.New("schema verification failed")
)
