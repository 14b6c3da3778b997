package warmcache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/warmcache/internal/arena"
	"github.com/dmitrymomot/warmcache/pkg/cache"
	"github.com/dmitrymomot/warmcache/pkg/coalesce"
	"github.com/dmitrymomot/warmcache/pkg/logger"
	"github.com/dmitrymomot/warmcache/pkg/metrics"
	"github.com/dmitrymomot/warmcache/pkg/persist"
	"github.com/dmitrymomot/warmcache/pkg/prefetch"
)

// Tombstones are pruned once there are at least this many.
const maxTombstones = 1024

// errInvalidated marks a write dropped because its key was invalidated
// while the value was being fetched.
var errInvalidated = errors.New("warmcache: key invalidated during fetch")

// Fetcher loads the current value for a key from the slow source.
type Fetcher[V any] func(ctx context.Context) (V, error)

// Cache is a two-tier stale-while-revalidate cache.
//
// Reads consult the memory tier, then the persistent tier, then the fetcher.
// Fetches for the same key are coalesced. Values older than the stale time
// are served immediately and refreshed in the background.
type Cache[V any] struct {
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
	gen       *cache.Generation
	memory    *cache.Memory[V]
	store     persist.Store
	marshaler cache.Marshaler[V]
	sweeper   *persist.Sweeper
	group     *coalesce.Group[V]
	arena     *arena.Arena
	name      string

	mu         sync.Mutex
	refreshing map[string]struct{}
	queues     []*prefetch.Queue

	// Invalidation bookkeeping, guarded by mu. seq counts invalidations.
	// A write that started at seq s is dropped when its key was invalidated
	// after s (keySeq) or the cache was cleared after s (clearSeq). Writes in
	// flight are counted per key in writing.
	seq      uint64
	clearSeq uint64
	keySeq   map[string]uint64
	writing  map[string]int

	// Persistent records fetched no later than the tombstone of their key,
	// or than clearedAt, are ignored. This covers failed deletes and
	// persistent writes that land after an invalidation.
	tombstones map[string]time.Time
	clearedAt  time.Time

	hits            atomic.Int64
	misses          atomic.Int64
	stale           atomic.Int64
	refreshFailures atomic.Int64
	persistErrors   atomic.Int64

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates cfg and builds a cache. Zero config fields take defaults.
func New[V any](cfg Config, opts ...Option) (*Cache[V], error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	marshaler := cache.JSONMarshaler[V]()
	if o.marshaler != nil {
		m, ok := o.marshaler.(cache.Marshaler[V])
		if !ok {
			return nil, ErrMarshalerType
		}
		marshaler = m
	}

	gen := cache.NewGeneration()
	log := o.logger.With(slog.String("cache", o.name))

	memory := cache.NewMemory[V](
		cache.WithGeneration(gen),
		cache.WithDefaultTTL(cfg.DefaultTTL),
		cache.WithCleanupInterval(cfg.CleanupInterval),
		cache.WithMaxSize(max(cfg.MaxSize, 0)),
		cache.WithMaxEntries(cfg.MaxEntries),
		cache.WithClock(o.now),
	)
	if o.sizer != nil {
		sizer, ok := o.sizer.(cache.Sizer[V])
		if !ok {
			_ = memory.Close()
			return nil, ErrMarshalerType
		}
		memory.SetSizer(sizer)
	}

	c := &Cache[V]{
		cfg:       cfg,
		log:       log,
		now:       o.now,
		gen:       gen,
		memory:    memory,
		store:     o.store,
		marshaler: marshaler,
		group: coalesce.New[V](
			coalesce.WithTimeout(cfg.Timeout),
			coalesce.WithGraceDelay(max(cfg.GraceDelay, 0)),
			coalesce.WithMaxRetries(max(cfg.MaxRetries, 0)),
			coalesce.WithCooldown(cfg.RetryCooldown),
			coalesce.WithLogger(log),
		),
		arena:      arena.New(cfg.MaxBackground, log),
		name:       o.name,
		refreshing: make(map[string]struct{}),
		keySeq:     make(map[string]uint64),
		writing:    make(map[string]int),
		tombstones: make(map[string]time.Time),
	}

	if c.store != nil && cfg.PersistMaxAge > 0 {
		c.sweeper = persist.NewSweeper(c.store, cfg.PersistMaxAge,
			persist.WithSweepInterval(cfg.SweepInterval),
			persist.WithSweepTimeout(cfg.Timeout),
			persist.WithSweepLogger(log),
		)
		c.sweeper.Start(c.arena.Context())
	}

	return c, nil
}

// Config returns the effective configuration.
func (c *Cache[V]) Config() Config {
	return c.cfg
}

// Name returns the cache label used in logs and metrics.
func (c *Cache[V]) Name() string {
	return c.name
}

// Get is GetWithRevalidate with the configured stale time.
func (c *Cache[V]) Get(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	return c.GetWithRevalidate(ctx, key, fetch, c.cfg.StaleTime)
}

// GetWithRevalidate returns the value for key.
//
// A missing value is fetched through the coalescer and stored in both tiers.
// A value younger than staleTime is returned as is. An older but still valid
// value is returned immediately while a background refresh runs; a failed
// refresh keeps the old value and is only logged.
func (c *Cache[V]) GetWithRevalidate(ctx context.Context, key string, fetch Fetcher[V], staleTime time.Duration) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrClosed
	}
	if fetch == nil {
		return zero, ErrNilFetcher
	}

	entry, ok := c.lookup(ctx, key)
	if !ok {
		c.misses.Add(1)
		return c.fetchAndStore(ctx, key, fetch)
	}

	c.hits.Add(1)
	if entry.Age(c.now()) < staleTime {
		return entry.Value, nil
	}

	c.stale.Add(1)
	c.revalidate(key, fetch)
	return entry.Value, nil
}

// Peek returns the cached value for key without fetching or counting.
func (c *Cache[V]) Peek(ctx context.Context, key string) (V, bool) {
	entry, ok := c.lookup(ctx, key)
	return entry.Value, ok
}

// Set stores value in both tiers as if it had just been fetched.
func (c *Cache[V]) Set(ctx context.Context, key string, value V) error {
	if c.closed.Load() {
		return ErrClosed
	}

	since := c.beginWrite(key)
	defer c.endWrite(key)

	err := c.write(ctx, key, value, c.gen.Current(), since)
	if errors.Is(err, errInvalidated) {
		return nil
	}
	return err
}

// Refresh fetches key in the foreground through the coalescer and stores
// the result, regardless of what is cached.
func (c *Cache[V]) Refresh(ctx context.Context, key string, fetch Fetcher[V]) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if fetch == nil {
		return ErrNilFetcher
	}
	_, err := c.fetchAndStore(ctx, key, fetch)
	return err
}

// Invalidate removes key from both tiers and drops any finished coalesced
// call for it, so the next read takes the cold path. Persistent tier
// failures are logged, not returned.
func (c *Cache[V]) Invalidate(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	c.seq++
	if c.writing[key] > 0 {
		c.keySeq[key] = c.seq
	}
	if c.store != nil {
		c.tombstones[key] = c.now()
		c.pruneTombstones()
	}
	err := c.memory.Delete(ctx, key)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.group.Forget(key)
	if c.store != nil {
		sctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		if err := c.store.Delete(sctx, key); err != nil {
			c.persistFailed(ctx, key, "delete", err)
		}
	}

	c.forgetPrefetched(key)
	return nil
}

// BumpVersion invalidates every entry of both tiers without enumerating
// them and returns the new version.
func (c *Cache[V]) BumpVersion() uint64 {
	v := c.gen.Bump()
	c.forgetPrefetched("")
	c.log.Info("cache version bumped", slog.Uint64("version", v))
	return v
}

// Version returns the current cache version.
func (c *Cache[V]) Version() uint64 {
	return c.gen.Current()
}

// Clear empties both tiers.
func (c *Cache[V]) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	c.seq++
	c.clearSeq = c.seq
	c.clearedAt = c.now()
	clear(c.tombstones)
	err := c.memory.Clear(ctx)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if c.store != nil {
		sctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		if err := c.store.Clear(sctx); err != nil {
			c.persistFailed(ctx, "", "clear", err)
		}
	}

	c.forgetPrefetched("")
	return nil
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache[V]) Metrics() metrics.Snapshot {
	stats := c.memory.Stats()
	return metrics.Snapshot{
		EntryCount:       stats.Entries,
		TotalSizeBytes:   stats.SizeBytes,
		HitCount:         c.hits.Load(),
		MissCount:        c.misses.Load(),
		EvictionCount:    int64(stats.Evictions),
		PendingCallCount: c.group.Pending(),
		StaleCount:       c.stale.Load(),
		RefreshFailures:  c.refreshFailures.Load(),
		PersistErrors:    c.persistErrors.Load(),
	}
}

// Shutdown stops prefetch queues and background refreshes, waits for them,
// then closes the coalescer, the memory tier and the persistent store.
// If ctx ends first, Shutdown returns ctx.Err() and teardown continues in
// the background. Shutdown is idempotent.
func (c *Cache[V]) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.shutdownOnce.Do(c.shutdown)
	}()

	select {
	case <-done:
		return c.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache[V]) shutdown() {
	c.closed.Store(true)

	c.mu.Lock()
	queues := c.queues
	c.queues = nil
	c.mu.Unlock()

	var errs []error
	for _, q := range queues {
		errs = append(errs, q.Close())
	}

	if c.sweeper != nil {
		c.sweeper.Stop()
	}
	c.arena.Close()
	errs = append(errs, c.group.Close(), c.memory.Close())
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}

	c.shutdownErr = errors.Join(errs...)
	c.log.Info("cache shut down")
}

// lookup reads the memory tier, then the persistent tier. A persistent hit
// is promoted into memory with its original fetch time.
func (c *Cache[V]) lookup(ctx context.Context, key string) (cache.Entry[V], bool) {
	if e, err := c.memory.GetEntry(ctx, key); err == nil {
		return e, true
	}
	if c.store == nil {
		return cache.Entry[V]{}, false
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	rec, err := c.store.Get(sctx, key)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			c.mu.Lock()
			if c.writing[key] == 0 {
				delete(c.tombstones, key)
			}
			c.mu.Unlock()
		} else {
			c.persistFailed(ctx, key, "get", err)
		}
		return cache.Entry[V]{}, false
	}

	if rec.Version != c.gen.Current() || rec.Expired(c.now()) {
		return cache.Entry[V]{}, false
	}

	value, err := c.marshaler.Unmarshal(rec.Data)
	if err != nil {
		c.persistFailed(ctx, key, "decode", err)
		return cache.Entry[V]{}, false
	}

	entry := cache.Entry[V]{
		Key:       key,
		Value:     value,
		CreatedAt: rec.FetchedAt,
		TTL:       rec.TTL,
		Version:   rec.Version,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !rec.FetchedAt.After(c.invalidatedAt(key)) {
		return cache.Entry[V]{}, false
	}
	if err := c.memory.SetEntry(ctx, entry); err != nil && !errors.Is(err, cache.ErrEntryTooLarge) {
		c.log.DebugContext(ctx, "promotion to memory failed",
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
	return entry, true
}

// fetchAndStore runs fetch through the coalescer. The leader stores the
// result, so concurrent callers cause a single write.
func (c *Cache[V]) fetchAndStore(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	version := c.gen.Current()

	return c.group.Do(ctx, key, func(fctx context.Context) (V, error) {
		since := c.beginWrite(key)
		defer c.endWrite(key)

		v, err := fetch(fctx)
		if err != nil {
			return v, err
		}
		if werr := c.write(fctx, key, v, version, since); werr != nil {
			c.log.DebugContext(fctx, "fetched value not cached",
				slog.String("key", key),
				slog.Any("error", werr),
			)
		}
		return v, nil
	})
}

// revalidate schedules one background refresh per key.
func (c *Cache[V]) revalidate(key string, fetch Fetcher[V]) {
	c.mu.Lock()
	if _, ok := c.refreshing[key]; ok {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = struct{}{}
	c.mu.Unlock()

	started := c.arena.Go("revalidate", func(ctx context.Context) error {
		defer c.doneRefreshing(key)

		ctx = logger.WithComponent(logger.WithCacheKey(ctx, key), "revalidate")
		if _, err := c.fetchAndStore(ctx, key, fetch); err != nil {
			c.refreshFailures.Add(1)
			if ctx.Err() == nil {
				c.log.WarnContext(ctx, "background refresh failed", slog.Any("error", err))
			}
		}
		return nil
	})
	if !started {
		c.doneRefreshing(key)
	}
}

func (c *Cache[V]) doneRefreshing(key string) {
	c.mu.Lock()
	delete(c.refreshing, key)
	c.mu.Unlock()
}

// beginWrite registers a write for key and returns the invalidation
// sequence it started at. Every call must be paired with endWrite.
func (c *Cache[V]) beginWrite(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writing[key]++
	return c.seq
}

func (c *Cache[V]) endWrite(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writing[key]--; c.writing[key] <= 0 {
		delete(c.writing, key)
		delete(c.keySeq, key)
	}
}

// invalidatedAt returns the latest invalidation time of key. The caller
// must hold c.mu.
func (c *Cache[V]) invalidatedAt(key string) time.Time {
	at := c.clearedAt
	if t, ok := c.tombstones[key]; ok && t.After(at) {
		at = t
	}
	return at
}

// pruneTombstones drops tombstones that can no longer hide a live record:
// anything written before them has expired. The caller must hold c.mu.
func (c *Cache[V]) pruneTombstones() {
	if len(c.tombstones) < maxTombstones || c.cfg.DefaultTTL <= 0 {
		return
	}
	cutoff := c.now().Add(-c.cfg.DefaultTTL)
	for key, at := range c.tombstones {
		if at.Before(cutoff) && c.writing[key] == 0 {
			delete(c.tombstones, key)
		}
	}
}

// write stores value in memory, then clones it into the persistent tier.
// A write that started before an invalidation of key, or before Clear, is
// dropped with errInvalidated. The check and the memory write happen under
// the lock Invalidate takes. Persistent failures are logged and counted,
// never returned.
func (c *Cache[V]) write(ctx context.Context, key string, value V, version, since uint64) error {
	c.mu.Lock()
	if c.clearSeq > since || c.keySeq[key] > since {
		c.mu.Unlock()
		return errInvalidated
	}

	// Records must be younger than the last invalidation to be read back.
	fetchedAt := c.now()
	if at := c.invalidatedAt(key); !fetchedAt.After(at) {
		fetchedAt = at.Add(time.Nanosecond)
	}

	err := c.memory.SetEntry(ctx, cache.Entry[V]{
		Key:       key,
		Value:     value,
		CreatedAt: fetchedAt,
		TTL:       c.cfg.DefaultTTL,
		Version:   version,
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if c.store == nil {
		return nil
	}

	data, err := c.marshaler.Marshal(value)
	if err != nil {
		c.persistFailed(ctx, key, "encode", err)
		return nil
	}
	if c.cfg.PersistMaxSize > 0 && int64(len(data)) > c.cfg.PersistMaxSize {
		c.log.DebugContext(ctx, "value exceeds persistent size budget, kept in memory only",
			slog.String("key", key),
			slog.Int("size", len(data)),
		)
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.store.Set(sctx, persist.Record{
		Key:       key,
		Data:      data,
		FetchedAt: fetchedAt,
		TTL:       c.cfg.DefaultTTL,
		Version:   version,
	}); err != nil {
		if errors.Is(err, persist.ErrTooLarge) {
			c.log.DebugContext(ctx, "persistent tier rejected oversized value",
				slog.String("key", key),
				slog.Int("size", len(data)),
			)
			return nil
		}
		c.persistFailed(ctx, key, "set", err)
	}
	return nil
}

func (c *Cache[V]) persistFailed(ctx context.Context, key, op string, err error) {
	c.persistErrors.Add(1)
	c.log.WarnContext(ctx, "persistent tier failed, continuing from memory",
		slog.String("op", op),
		slog.String("key", key),
		slog.Any("error", err),
	)
}

// Prefetcher returns a prefetch queue that warms this cache. resolve maps
// a target to the fetcher for it; a nil fetcher fails the task with
// ErrUnknownTarget. Targets already cached and fresh are not fetched again.
// The queue is closed by Shutdown.
func (c *Cache[V]) Prefetcher(resolve func(target string) Fetcher[V], opts ...prefetch.Option) (*prefetch.Queue, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if resolve == nil {
		return nil, ErrNilFetcher
	}

	exec := func(ctx context.Context, target string) error {
		if c.closed.Load() {
			return ErrClosed
		}
		if e, ok := c.lookup(ctx, target); ok && e.Age(c.now()) < c.cfg.StaleTime {
			return nil
		}
		fetch := resolve(target)
		if fetch == nil {
			return ErrUnknownTarget
		}
		_, err := c.fetchAndStore(logger.WithComponent(ctx, "prefetch"), target, fetch)
		return err
	}

	base := []prefetch.Option{
		prefetch.WithTimeout(c.cfg.Timeout),
		prefetch.WithHoverDebounce(c.cfg.HoverDebounce),
		prefetch.WithLogger(c.log),
		prefetch.WithClock(c.now),
	}
	q := prefetch.New(exec, append(base, opts...)...)

	// Shutdown takes its copy of the queues under mu after setting closed.
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = q.Close()
		return nil, ErrClosed
	}
	c.queues = append(c.queues, q)
	c.mu.Unlock()

	return q, nil
}

// forgetPrefetched lets prefetch queues warm target again after it was
// invalidated. An empty target resets every queue.
func (c *Cache[V]) forgetPrefetched(target string) {
	c.mu.Lock()
	queues := c.queues
	c.mu.Unlock()

	for _, q := range queues {
		if target == "" {
			q.ForgetAll()
		} else {
			q.Forget(target)
		}
	}
}

var _ metrics.Source = (*Cache[string])(nil)
