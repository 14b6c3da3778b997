package warmcache

import (
	"errors"
	"fmt"
	"time"
)

// Config enumerates every recognized cache setting. Zero values are replaced
// by the defaults documented on each field.
type Config struct {
	// How long an entry stays valid after it was fetched. Default: 5m.
	// Negative keeps entries until evicted or invalidated.
	DefaultTTL time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m" yaml:"default_ttl"`

	// Age after which a valid entry is served stale and refreshed in the
	// background. Must not exceed DefaultTTL. Default: 1m.
	StaleTime time.Duration `env:"CACHE_STALE_TIME" envDefault:"1m" yaml:"stale_time"`

	// Size budget of the memory tier in bytes. Default: 64 MiB.
	// Negative disables the size bound.
	MaxSize int64 `env:"CACHE_MAX_SIZE" envDefault:"67108864" yaml:"max_size"`

	// Optional entry count bound of the memory tier. Zero means unbounded.
	MaxEntries int `env:"CACHE_MAX_ENTRIES" yaml:"max_entries"`

	// How often the memory tier drops invalid entries. Default: 1m.
	CleanupInterval time.Duration `env:"CACHE_CLEANUP_INTERVAL" envDefault:"1m" yaml:"cleanup_interval"`

	// Bound on every fetch and persistent tier operation. Default: 30s.
	Timeout time.Duration `env:"CACHE_TIMEOUT" envDefault:"30s" yaml:"timeout"`

	// Consecutive failures per key before fetches fail fast. Default: 3.
	// Negative disables fail-fast.
	MaxRetries int `env:"CACHE_MAX_RETRIES" envDefault:"3" yaml:"max_retries"`

	// How long a key fails fast after reaching MaxRetries. Default: 30s.
	RetryCooldown time.Duration `env:"CACHE_RETRY_COOLDOWN" envDefault:"30s" yaml:"retry_cooldown"`

	// How long a finished fetch answers late callers. Default: 10ms.
	// Negative removes finished fetches immediately.
	GraceDelay time.Duration `env:"CACHE_GRACE_DELAY" envDefault:"10ms" yaml:"grace_delay"`

	// Batch window bounds used by NewBatcher. Defaults: 10 items, 50ms.
	MaxBatchSize int           `env:"CACHE_MAX_BATCH_SIZE" envDefault:"10" yaml:"max_batch_size"`
	MaxWaitTime  time.Duration `env:"CACHE_MAX_WAIT_TIME" envDefault:"50ms" yaml:"max_wait_time"`

	// Persistent records stored longer ago than this are swept.
	// Negative disables sweeping. Default: 24h.
	PersistMaxAge time.Duration `env:"CACHE_PERSIST_MAX_AGE" envDefault:"24h" yaml:"persist_max_age"`
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"10m" yaml:"sweep_interval"`

	// Size budget of the persistent tier in bytes of record data. Backends
	// built from Config evict their oldest records to stay within it, and the
	// cache does not persist values larger than it. Default: 256 MiB.
	// Negative disables the size bound.
	PersistMaxSize int64 `env:"CACHE_PERSIST_MAX_SIZE" envDefault:"268435456" yaml:"persist_max_size"`

	// Cap on concurrently running background refreshes. Default: 64.
	MaxBackground int `env:"CACHE_MAX_BACKGROUND" envDefault:"64" yaml:"max_background"`

	// Hover duration before a hovered target is prefetched. Default: 150ms.
	HoverDebounce time.Duration `env:"CACHE_HOVER_DEBOUNCE" envDefault:"150ms" yaml:"hover_debounce"`
}

// DefaultConfig returns the same defaults the env tags declare.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      5 * time.Minute,
		StaleTime:       time.Minute,
		MaxSize:         64 << 20,
		CleanupInterval: time.Minute,
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryCooldown:   30 * time.Second,
		GraceDelay:      10 * time.Millisecond,
		MaxBatchSize:    10,
		MaxWaitTime:     50 * time.Millisecond,
		PersistMaxAge:   24 * time.Hour,
		SweepInterval:   10 * time.Minute,
		PersistMaxSize:  256 << 20,
		MaxBackground:   64,
		HoverDebounce:   150 * time.Millisecond,
	}
}

// withDefaults replaces zero fields with DefaultConfig values. Negative
// values of MaxSize, MaxRetries, GraceDelay, PersistMaxAge and PersistMaxSize
// switch the feature off and are kept.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTTL == 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.StaleTime == 0 {
		c.StaleTime = d.StaleTime
	}
	if c.MaxSize == 0 {
		c.MaxSize = d.MaxSize
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryCooldown <= 0 {
		c.RetryCooldown = d.RetryCooldown
	}
	if c.GraceDelay == 0 {
		c.GraceDelay = d.GraceDelay
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = d.MaxWaitTime
	}
	if c.PersistMaxAge == 0 {
		c.PersistMaxAge = d.PersistMaxAge
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.PersistMaxSize == 0 {
		c.PersistMaxSize = d.PersistMaxSize
	}
	if c.MaxBackground <= 0 {
		c.MaxBackground = d.MaxBackground
	}
	if c.HoverDebounce <= 0 {
		c.HoverDebounce = d.HoverDebounce
	}
	return c
}

// Validate reports settings that cannot work together. It is applied after
// defaults are filled in.
func (c Config) Validate() error {
	var errs []error

	if c.StaleTime < 0 {
		errs = append(errs, errors.New("stale_time must not be negative"))
	}
	if c.DefaultTTL > 0 && c.StaleTime > c.DefaultTTL {
		errs = append(errs, fmt.Errorf("stale_time %s exceeds default_ttl %s", c.StaleTime, c.DefaultTTL))
	}
	if c.MaxEntries < 0 {
		errs = append(errs, errors.New("max_entries must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}
