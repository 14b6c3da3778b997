package persist

import "time"

// RedisOption configures the Redis store.
type RedisOption func(*redisOptions)

type redisOptions struct {
	now        func() time.Time
	prefix     string
	sweepBatch int64
	maxSize    int64
}

func defaultRedisOptions() *redisOptions {
	return &redisOptions{
		now:        time.Now,
		prefix:     "warmcache",
		sweepBatch: 500,
	}
}

// WithPrefix sets a key prefix for all store operations.
// Records are stored as "{prefix}:r:{key}" and the timestamp index as
// "{prefix}:idx". Use distinct prefixes when several caches share one Redis.
// On Redis Cluster use a hash-tagged prefix such as "{users}" so that all
// keys of a store live in one slot.
// Default: "warmcache".
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithRedisMaxSize bounds the total size of stored record data in bytes.
// Zero or less means unbounded.
func WithRedisMaxSize(n int64) RedisOption {
	return func(o *redisOptions) {
		o.maxSize = n
	}
}

// WithSweepBatch sets how many expired keys a sweep removes per round trip.
// Default: 500.
func WithSweepBatch(n int64) RedisOption {
	return func(o *redisOptions) {
		if n > 0 {
			o.sweepBatch = n
		}
	}
}

// WithRedisClock overrides the time source. Intended for tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(o *redisOptions) {
		if now != nil {
			o.now = now
		}
	}
}
