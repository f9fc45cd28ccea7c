package scheduler

import "errors"

// ErrInvalidConfig rejects an enabled scheduler with a non-positive interval.
var ErrInvalidConfig = errors.New("scheduler: interval must be positive")
