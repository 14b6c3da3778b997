package batch

import "errors"

var (
	ErrBatchFailed   = errors.New("batch: batch processing failed")
	ErrMissingResult = errors.New("batch: processor returned no result for item")
	ErrTimeout       = errors.New("batch: batch timed out")
	ErrClosed        = errors.New("batch: batcher is closed")
)
