package settings

import "errors"

// ErrNotFound is returned when a settings key has no stored value.
var ErrNotFound = errors.New("settings: not found")
