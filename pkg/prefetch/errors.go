package prefetch

import "errors"

var (
	ErrClosed       = errors.New("prefetch: queue is closed")
	ErrInvalidCron  = errors.New("prefetch: invalid cron schedule")
	ErrEmptyTarget  = errors.New("prefetch: empty target")
	ErrAlreadyKnown = errors.New("prefetch: target already queued or prefetched")
	ErrQueueFull    = errors.New("prefetch: queue is full")
)
