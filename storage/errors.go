package storage

import "errors"

// Common storage errors.
var (
	// ErrEmptyKey is returned when a claim is attempted with an empty
	// key.
	ErrEmptyKey = errors.New("idempotency key is empty")
)
