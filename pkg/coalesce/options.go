package coalesce

import (
	"log/slog"
	"time"
)

// Option configures a Group.
type Option func(*options)

type options struct {
	now           func() time.Time
	logger        *slog.Logger
	timeout       time.Duration
	graceDelay    time.Duration
	cooldown      time.Duration
	sweepInterval time.Duration
	maxRetries    int
}

func defaultOptions() *options {
	return &options{
		now:           time.Now,
		logger:        slog.New(slog.DiscardHandler),
		timeout:       30 * time.Second,
		graceDelay:    10 * time.Millisecond,
		cooldown:      30 * time.Second,
		sweepInterval: time.Minute,
		maxRetries:    3,
	}
}

// WithTimeout bounds a single call. On timeout every waiter gets ErrTimeout.
// Default: 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithGraceDelay sets how long a completed call keeps answering late callers.
// Zero removes calls as soon as they complete. Default: 10ms.
func WithGraceDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.graceDelay = d
		}
	}
}

// WithMaxRetries sets how many consecutive failures a key may accumulate
// before calls fail fast. Zero disables the limit. Default: 3.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithCooldown sets how long a key fails fast after reaching the retry limit.
// Default: 30 seconds.
func WithCooldown(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cooldown = d
		}
	}
}

// WithSweepInterval sets how often stale bookkeeping is dropped.
// Default: 1 minute.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithClock overrides the time source used for grace and cooldown checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger for timeouts and fail-fast transitions.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
