package safety

import "errors"

// Sentinel errors for rule construction.
var (
	// ErrInvalidSeverity is returned for severity names other than HIGH or MEDIUM.
	ErrInvalidSeverity = errors.New("invalid severity")

	// ErrEmptyPattern is returned for rules without a pattern.
	ErrEmptyPattern = errors.New("empty pattern")
)
