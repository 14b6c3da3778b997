package hints

import (
	"log/slog"
	"time"
)

// DefaultQueue is the River queue hints are published to and consumed from.
const DefaultQueue = "prefetch"

// PublishOption configures how a hint is inserted.
type PublishOption func(*publishConfig)

type publishConfig struct {
	scheduledAt *time.Time
	uniqueFor   time.Duration
	maxAttempts int
}

// ScheduledIn delays the hint by d.
func ScheduledIn(d time.Duration) PublishOption {
	return func(c *publishConfig) {
		t := time.Now().Add(d)
		c.scheduledAt = &t
	}
}

// UniqueFor drops hints for the same target published within d of each
// other.
func UniqueFor(d time.Duration) PublishOption {
	return func(c *publishConfig) {
		c.uniqueFor = d
	}
}

// MaxAttempts caps delivery attempts of a hint. Defaults to River's default.
func MaxAttempts(n int) PublishOption {
	return func(c *publishConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// Option configures a Publisher or a Consumer.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	queue     string
	periodics []periodicHint
	workers   int
}

type periodicHint struct {
	schedule string
	hints    []Hint
}

func newConfig() *config {
	return &config{
		logger:  slog.New(slog.DiscardHandler),
		queue:   DefaultQueue,
		workers: 1,
	}
}

// WithLogger sets the logger for hint delivery.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithQueue sets the River queue name. Default: "prefetch".
func WithQueue(name string) Option {
	return func(c *config) {
		if name != "" {
			c.queue = name
		}
	}
}

// WithWorkers sets how many hints are delivered concurrently. The prefetch
// queue serializes work anyway, so the default is 1.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithPeriodicHints publishes the given hints on a cron schedule
// (5 fields: min hour day month weekday). It is the durable counterpart of
// idle-time prefetching: each tick re-warms the listed targets.
func WithPeriodicHints(schedule string, hints ...Hint) Option {
	return func(c *config) {
		c.periodics = append(c.periodics, periodicHint{schedule: schedule, hints: hints})
	}
}
