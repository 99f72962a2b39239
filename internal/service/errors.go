package service

import "errors"

var (
	// ErrManualResolutionRequired signals that the configured strategy
	// refuses to pick a winner automatically. It is an outcome, not a
	// failure: the record stays unresolved until a human acts on the
	// backup.
	ErrManualResolutionRequired = errors.New("manual resolution required")

	ErrUnknownStrategy = errors.New("unknown resolution strategy")
)
