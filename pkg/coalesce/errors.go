package coalesce

import "errors"

var (
	ErrTimeout            = errors.New("coalesce: call timed out")
	ErrMaxRetriesExceeded = errors.New("coalesce: max retries exceeded")
	ErrClosed             = errors.New("coalesce: group is closed")
)
