package storage

import "errors"

// Sentinel errors for the storage package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrInvalidSessionKey is returned for keys that are not safe file name parts.
	ErrInvalidSessionKey = errors.New("invalid session key")

	// ErrTokenNotFound is returned when there is no token to consume, including
	// when a concurrent caller consumed it first.
	ErrTokenNotFound = errors.New("bypass token not found")

	// ErrTokenExpired is returned when the consumed token was older than the TTL.
	ErrTokenExpired = errors.New("bypass token expired")

	// ErrTokenMalformed is returned when the consumed token could not be parsed.
	ErrTokenMalformed = errors.New("bypass token malformed")
)
