package state

import "errors"

var (
	// ErrUnknownTarget is returned when a legacy topic maps to no device
	// capability.
	ErrUnknownTarget = errors.New("state: unknown target")

	// ErrWriteFailed wraps a platform write error.
	ErrWriteFailed = errors.New("state: write failed")
)
