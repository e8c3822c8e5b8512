package store

import "errors"

// Errors.
var (
	// ErrNotFound is returned when a template id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for empty or oversize field values.
	ErrValidation = errors.New("validation failed")
)
