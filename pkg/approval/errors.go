package approval

import "errors"

var (
	// ErrInvalidDecision is returned for an unknown decision name.
	ErrInvalidDecision = errors.New("invalid approval decision")

	// ErrEmptyKey is returned when a request carries no tool key.
	ErrEmptyKey = errors.New("approval request without tool key")
)
