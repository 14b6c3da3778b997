package warmcache

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/warmcache/pkg/persist"
)

// Option configures a Cache.
type Option func(*options)

type options struct {
	store     persist.Store
	logger    *slog.Logger
	now       func() time.Time
	marshaler any
	sizer     any
	name      string
}

func defaultOptions() *options {
	return &options{
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		name:   "default",
	}
}

// WithPersistentStore adds a durable tier behind the memory tier.
// Without it the cache runs memory-only.
func WithPersistentStore(s persist.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithLogger sets the logger for degraded tiers and background failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithName labels the cache in logs and metrics. Default: "default".
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithClock overrides the time source of every tier. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMarshaler sets how values are serialized for the persistent tier.
// m must be a cache.Marshaler of the cache value type. Default: JSON.
func WithMarshaler(m any) Option {
	return func(o *options) {
		o.marshaler = m
	}
}

// WithSizer sets how entry sizes are estimated for the memory budget.
// s must be a cache.Sizer of the cache value type. Default: JSON length.
func WithSizer(s any) Option {
	return func(o *options) {
		o.sizer = s
	}
}
