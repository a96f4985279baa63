package hub

import "errors"

// Domain errors for the hub package.
var (
	// ErrStore is returned when a change could not be persisted.
	ErrStore = errors.New("hub: settings store failure")
)
