package publish

import "errors"

// ErrQueueClosed is returned when adding to a closed queue.
var ErrQueueClosed = errors.New("publish: queue closed")
