package batch

import (
	"log/slog"
	"time"
)

// Option configures a Batcher.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	maxWaitTime  time.Duration
	timeout      time.Duration
	maxBatchSize int
}

func defaultOptions() *options {
	return &options{
		logger:       slog.New(slog.DiscardHandler),
		maxWaitTime:  50 * time.Millisecond,
		timeout:      30 * time.Second,
		maxBatchSize: 10,
	}
}

// WithMaxBatchSize flushes a window as soon as it holds n items.
// Default: 10.
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatchSize = n
		}
	}
}

// WithMaxWaitTime flushes a window this long after its first item arrived.
// Default: 50ms.
func WithMaxWaitTime(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxWaitTime = d
		}
	}
}

// WithTimeout bounds a single call to the processor. Default: 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger for batch failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
