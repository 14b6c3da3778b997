package prefetch

import (
	"log/slog"
	"time"
)

// Option configures a Queue.
type Option func(*options)

type options struct {
	now           func() time.Time
	logger        *slog.Logger
	onSettled     func(Task, State)
	timeout       time.Duration
	hoverDebounce time.Duration
	maxLen        int
}

func defaultOptions() *options {
	return &options{
		now:           time.Now,
		logger:        slog.New(slog.DiscardHandler),
		timeout:       30 * time.Second,
		hoverDebounce: 150 * time.Millisecond,
		maxLen:        1000,
	}
}

// WithTimeout bounds a single executor call. Default: 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHoverDebounce sets how long a hover must last before the target is
// enqueued. Default: 150ms.
func WithHoverDebounce(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.hoverDebounce = d
		}
	}
}

// WithMaxLen caps the number of queued tasks. Default: 1000.
func WithMaxLen(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLen = n
		}
	}
}

// WithLogger sets the logger for failed tasks.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOnSettled registers a hook called after every task reaches a final
// state. It runs on the worker goroutine and must not block.
func WithOnSettled(fn func(Task, State)) Option {
	return func(o *options) {
		o.onSettled = fn
	}
}

// WithClock overrides the time source for enqueue timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
