package homie

import "errors"

// Domain errors for the homie package.
var (
	// ErrInvalidSettings is returned when settings fail validation.
	ErrInvalidSettings = errors.New("homie: invalid settings")

	// ErrUnknownNode is returned when a command targets no known node.
	ErrUnknownNode = errors.New("homie: unknown node")

	// ErrUnknownProperty is returned when a command targets no known property.
	ErrUnknownProperty = errors.New("homie: unknown property")

	// ErrNotSettable is returned when a command targets a read-only property.
	ErrNotSettable = errors.New("homie: property not settable")

	// ErrInvalidPayload is returned when a command payload cannot be used.
	ErrInvalidPayload = errors.New("homie: invalid payload")

	// ErrWriteFailed is returned when the platform rejects a capability write.
	ErrWriteFailed = errors.New("homie: capability write failed")
)
