package cache

import "time"

// MemoryOption configures the in-memory cache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	now             func() time.Time
	generation      *Generation
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	maxSize         int64
	maxEntries      int
}

func defaultMemoryOptions() *memoryOptions {
	return &memoryOptions{
		now:             time.Now,
		defaultTTL:      5 * time.Minute,
		cleanupInterval: time.Minute,
		maxSize:         0, // 0 = unlimited
		maxEntries:      0, // 0 = unlimited
	}
}

// WithDefaultTTL sets the expiration used when Set is called with a zero TTL.
// Default: 5 minutes.
func WithDefaultTTL(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		o.defaultTTL = d
	}
}

// WithCleanupInterval sets how often invalid entries are removed
// by the background janitor goroutine. Zero disables the janitor.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		o.cleanupInterval = d
	}
}

// WithMaxSize sets the total size budget in bytes.
// When an insert would exceed it, the oldest entries are evicted until it fits.
// Zero means unlimited.
// Default: 0 (unlimited).
func WithMaxSize(n int64) MemoryOption {
	return func(o *memoryOptions) {
		o.maxSize = n
	}
}

// WithMaxEntries sets the maximum number of entries in the cache.
// Zero means unlimited.
// Default: 0 (unlimited).
func WithMaxEntries(n int) MemoryOption {
	return func(o *memoryOptions) {
		o.maxEntries = n
	}
}

// WithGeneration shares a generation counter with the cache.
// Bumping the counter invalidates all entries at once.
// Default: a private counter.
func WithGeneration(g *Generation) MemoryOption {
	return func(o *memoryOptions) {
		if g != nil {
			o.generation = g
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		if now != nil {
			o.now = now
		}
	}
}
