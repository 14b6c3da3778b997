package warmcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/warmcache"
	"github.com/dmitrymomot/warmcache/pkg/cache"
	"github.com/dmitrymomot/warmcache/pkg/persist"
	"github.com/dmitrymomot/warmcache/pkg/prefetch"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore fails every operation.
type failingStore struct {
	calls atomic.Int32
}

var errStoreDown = errors.New("store down")

func (s *failingStore) Get(context.Context, string) (persist.Record, error) {
	s.calls.Add(1)
	return persist.Record{}, errStoreDown
}

func (s *failingStore) Set(context.Context, persist.Record) error {
	s.calls.Add(1)
	return errStoreDown
}

func (s *failingStore) Delete(context.Context, string) error {
	s.calls.Add(1)
	return errStoreDown
}

func (s *failingStore) Clear(context.Context) error {
	s.calls.Add(1)
	return errStoreDown
}

func (s *failingStore) Sweep(context.Context, time.Duration) (int, error) {
	return 0, errStoreDown
}

func (s *failingStore) Close() error { return nil }

// stickyStore reads and writes like persist.Memory but never deletes.
type stickyStore struct {
	*persist.Memory
}

func (s stickyStore) Delete(context.Context, string) error { return errStoreDown }

func (s stickyStore) Clear(context.Context) error { return errStoreDown }

func testConfig() warmcache.Config {
	cfg := warmcache.DefaultConfig()
	cfg.DefaultTTL = 5 * time.Second
	cfg.StaleTime = time.Second
	cfg.GraceDelay = -1
	return cfg
}

func newCache(t *testing.T, clock *fakeClock, opts ...warmcache.Option) *warmcache.Cache[string] {
	t.Helper()

	if clock != nil {
		opts = append(opts, warmcache.WithClock(clock.Now))
	}
	c, err := warmcache.New[string](testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Shutdown(context.Background())
	})
	return c
}

// counter returns a fetcher that answers values[i] on its i-th call and
// repeats the last value afterwards.
func counter(calls *atomic.Int32, values ...string) warmcache.Fetcher[string] {
	return func(context.Context) (string, error) {
		n := int(calls.Add(1))
		return values[min(n, len(values))-1], nil
	}
}

// --- Config ---

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	t.Run("stale time beyond ttl is rejected", func(t *testing.T) {
		t.Parallel()

		cfg := warmcache.DefaultConfig()
		cfg.DefaultTTL = time.Second
		cfg.StaleTime = time.Minute

		_, err := warmcache.New[string](cfg)
		require.ErrorIs(t, err, warmcache.ErrInvalidConfig)
	})

	t.Run("negative stale time is rejected", func(t *testing.T) {
		t.Parallel()

		cfg := warmcache.DefaultConfig()
		cfg.StaleTime = -time.Second

		require.ErrorIs(t, cfg.Validate(), warmcache.ErrInvalidConfig)
	})

	t.Run("zero config takes defaults", func(t *testing.T) {
		t.Parallel()

		c, err := warmcache.New[string](warmcache.Config{})
		require.NoError(t, err)
		defer c.Shutdown(context.Background())

		require.Equal(t, warmcache.DefaultConfig(), c.Config())
	})

	t.Run("marshaler of another type is rejected", func(t *testing.T) {
		t.Parallel()

		_, err := warmcache.New[string](warmcache.DefaultConfig(),
			warmcache.WithMarshaler(cache.JSONMarshaler[int]()),
		)
		require.ErrorIs(t, err, warmcache.ErrMarshalerType)
	})
}

// --- Cache: GetWithRevalidate ---

func TestCache_GetWithRevalidate(t *testing.T) {
	t.Parallel()

	t.Run("miss fetches and hit serves from memory", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, newFakeClock())
		var calls atomic.Int32
		fetch := counter(&calls, "v1")

		v, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v1", v)

		v, err = c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v1", v)

		require.Equal(t, int32(1), calls.Load())
		m := c.Metrics()
		require.Equal(t, int64(1), m.HitCount)
		require.Equal(t, int64(1), m.MissCount)
		require.Equal(t, 1, m.EntryCount)
	})

	t.Run("stale value is served while refreshing in background", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		c := newCache(t, clock)

		release := make(chan struct{})
		var calls atomic.Int32
		fetch := func(context.Context) (string, error) {
			if calls.Add(1) == 1 {
				return "v1", nil
			}
			<-release
			return "v2", nil
		}

		v, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v1", v)

		clock.Advance(2 * time.Second)

		v, err = c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v1", v, "stale read must not wait for the refresh")

		close(release)
		require.Eventually(t, func() bool {
			got, ok := c.Peek(context.Background(), "k")
			return ok && got == "v2"
		}, time.Second, 5*time.Millisecond)

		require.Equal(t, int32(2), calls.Load())
		require.Equal(t, int64(1), c.Metrics().StaleCount)
	})

	t.Run("fresh value within stale time skips refresh", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		c := newCache(t, clock)
		var calls atomic.Int32
		fetch := counter(&calls, "v1", "v2")

		_, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)

		clock.Advance(500 * time.Millisecond)
		v, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v1", v)

		time.Sleep(20 * time.Millisecond)
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("expired value blocks on a new fetch", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		c := newCache(t, clock)
		var calls atomic.Int32
		fetch := counter(&calls, "v1", "v2")

		_, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)

		clock.Advance(6 * time.Second)
		v, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v2", v)
	})

	t.Run("failed refresh keeps serving the old value", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		c := newCache(t, clock)
		var calls atomic.Int32
		fetch := func(context.Context) (string, error) {
			if calls.Add(1) == 1 {
				return "v1", nil
			}
			return "", errors.New("origin down")
		}

		_, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)

		clock.Advance(2 * time.Second)
		v, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v1", v)

		require.Eventually(t, func() bool {
			return c.Metrics().RefreshFailures == 1
		}, time.Second, 5*time.Millisecond)

		got, ok := c.Peek(context.Background(), "k")
		require.True(t, ok)
		require.Equal(t, "v1", got)
	})

	t.Run("fetch error on miss is returned and nothing is cached", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, newFakeClock())
		fetchErr := errors.New("boom")

		_, err := c.Get(context.Background(), "k", func(context.Context) (string, error) {
			return "", fetchErr
		})
		require.ErrorIs(t, err, fetchErr)

		_, ok := c.Peek(context.Background(), "k")
		require.False(t, ok)
	})

	t.Run("concurrent misses call the fetcher once", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, nil)
		var calls atomic.Int32
		fetch := func(context.Context) (string, error) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond)
			return "v", nil
		}

		const n = 50
		start := make(chan struct{})
		results := make([]string, n)
		errs := make([]error, n)

		var wg sync.WaitGroup
		for i := range n {
			wg.Go(func() {
				<-start
				results[i], errs[i] = c.Get(context.Background(), "k", fetch)
			})
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), calls.Load())
		for i := range n {
			require.NoError(t, errs[i])
			require.Equal(t, "v", results[i])
		}
	})

	t.Run("nil fetcher is rejected", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, nil)
		_, err := c.Get(context.Background(), "k", nil)
		require.ErrorIs(t, err, warmcache.ErrNilFetcher)
	})
}

// --- Cache: Invalidate ---

func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	t.Run("next read fetches again", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, newFakeClock())
		var calls atomic.Int32
		fetch := counter(&calls, "v1", "v2")

		_, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)

		require.NoError(t, c.Invalidate(context.Background(), "k"))
		require.NoError(t, c.Invalidate(context.Background(), "k"))
		require.NoError(t, c.Invalidate(context.Background(), "missing"))

		v, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v2", v)
	})

	t.Run("removes the persistent record", func(t *testing.T) {
		t.Parallel()

		store := persist.NewMemory()
		c := newCache(t, newFakeClock(), warmcache.WithPersistentStore(store))

		require.NoError(t, c.Set(context.Background(), "k", "v"))
		require.Equal(t, 1, store.Len())

		require.NoError(t, c.Invalidate(context.Background(), "k"))
		require.Equal(t, 0, store.Len())
	})

	t.Run("fetch overlapping invalidation is not stored", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, nil)
		entered := make(chan struct{})
		release := make(chan struct{})

		done := make(chan error, 1)
		go func() {
			_, err := c.Get(context.Background(), "k", func(context.Context) (string, error) {
				close(entered)
				<-release
				return "old", nil
			})
			done <- err
		}()

		<-entered
		require.NoError(t, c.Invalidate(context.Background(), "k"))
		close(release)
		require.NoError(t, <-done)

		_, ok := c.Peek(context.Background(), "k")
		require.False(t, ok)
	})

	t.Run("invalidating another key keeps the fetched value", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, nil)
		entered := make(chan struct{})
		release := make(chan struct{})

		done := make(chan error, 1)
		go func() {
			_, err := c.Get(context.Background(), "b", func(context.Context) (string, error) {
				close(entered)
				<-release
				return "b", nil
			})
			done <- err
		}()

		<-entered
		require.NoError(t, c.Invalidate(context.Background(), "a"))
		close(release)
		require.NoError(t, <-done)

		v, ok := c.Peek(context.Background(), "b")
		require.True(t, ok)
		require.Equal(t, "b", v)
	})

	t.Run("failed persistent delete does not resurrect the value", func(t *testing.T) {
		t.Parallel()

		store := stickyStore{Memory: persist.NewMemory()}
		c := newCache(t, newFakeClock(), warmcache.WithPersistentStore(store))

		require.NoError(t, c.Set(context.Background(), "k", "v1"))
		require.NoError(t, c.Invalidate(context.Background(), "k"))
		require.Equal(t, 1, store.Len(), "the record survives the failed delete")

		_, ok := c.Peek(context.Background(), "k")
		require.False(t, ok)

		var calls atomic.Int32
		v, err := c.Get(context.Background(), "k", counter(&calls, "v2"))
		require.NoError(t, err)
		require.Equal(t, "v2", v)
		require.Equal(t, int32(1), calls.Load())

		rec, err := store.Get(context.Background(), "k")
		require.NoError(t, err)
		require.JSONEq(t, `"v2"`, string(rec.Data))
	})

	t.Run("failed persistent clear does not resurrect values", func(t *testing.T) {
		t.Parallel()

		store := stickyStore{Memory: persist.NewMemory()}
		c := newCache(t, newFakeClock(), warmcache.WithPersistentStore(store))

		require.NoError(t, c.Set(context.Background(), "a", "1"))
		require.NoError(t, c.Set(context.Background(), "b", "2"))
		require.NoError(t, c.Clear(context.Background()))

		_, ok := c.Peek(context.Background(), "a")
		require.False(t, ok)
		_, ok = c.Peek(context.Background(), "b")
		require.False(t, ok)

		require.NoError(t, c.Set(context.Background(), "a", "3"))
		v, ok := c.Peek(context.Background(), "a")
		require.True(t, ok)
		require.Equal(t, "3", v)
	})
}

// --- Cache: BumpVersion ---

func TestCache_BumpVersion(t *testing.T) {
	t.Parallel()

	store := persist.NewMemory()
	c := newCache(t, newFakeClock(), warmcache.WithPersistentStore(store))
	var calls atomic.Int32
	fetch := counter(&calls, "v1", "v2")

	_, err := c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)

	require.Equal(t, uint64(2), c.BumpVersion())
	require.Equal(t, uint64(2), c.Version())

	_, ok := c.Peek(context.Background(), "k")
	require.False(t, ok, "entries of the old version must be invisible in both tiers")

	v, err := c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	require.Equal(t, "v2", v)

	rec, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, uint64(2), rec.Version)
}

// --- Cache: persistent tier ---

func TestCache_PersistentTier(t *testing.T) {
	t.Parallel()

	t.Run("persistent hit is promoted without fetching", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		store := persist.NewMemory()
		require.NoError(t, store.Set(context.Background(), persist.Record{
			Key:       "k",
			Data:      []byte(`"warm"`),
			FetchedAt: clock.Now(),
			TTL:       5 * time.Second,
			Version:   1,
		}))

		c := newCache(t, clock, warmcache.WithPersistentStore(store))
		v, err := c.Get(context.Background(), "k", func(context.Context) (string, error) {
			t.Error("fetcher must not be called on a persistent hit")
			return "", nil
		})
		require.NoError(t, err)
		require.Equal(t, "warm", v)
		require.Equal(t, 1, c.Metrics().EntryCount)
	})

	t.Run("promoted entry keeps its original age", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		store := persist.NewMemory()
		require.NoError(t, store.Set(context.Background(), persist.Record{
			Key:       "k",
			Data:      []byte(`"old"`),
			FetchedAt: clock.Now(),
			TTL:       5 * time.Second,
			Version:   1,
		}))
		clock.Advance(2 * time.Second)

		c := newCache(t, clock, warmcache.WithPersistentStore(store))
		var calls atomic.Int32
		v, err := c.Get(context.Background(), "k", counter(&calls, "new"))
		require.NoError(t, err)
		require.Equal(t, "old", v)

		require.Eventually(t, func() bool {
			got, _ := c.Peek(context.Background(), "k")
			return got == "new"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("expired persistent record is a miss", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		store := persist.NewMemory()
		require.NoError(t, store.Set(context.Background(), persist.Record{
			Key:       "k",
			Data:      []byte(`"old"`),
			FetchedAt: clock.Now().Add(-time.Minute),
			TTL:       5 * time.Second,
			Version:   1,
		}))

		c := newCache(t, clock, warmcache.WithPersistentStore(store))
		var calls atomic.Int32
		v, err := c.Get(context.Background(), "k", counter(&calls, "fresh"))
		require.NoError(t, err)
		require.Equal(t, "fresh", v)
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("fetched values are written through", func(t *testing.T) {
		t.Parallel()

		store := persist.NewMemory()
		c := newCache(t, newFakeClock(), warmcache.WithPersistentStore(store))

		var calls atomic.Int32
		_, err := c.Get(context.Background(), "k", counter(&calls, "v"))
		require.NoError(t, err)

		rec, err := store.Get(context.Background(), "k")
		require.NoError(t, err)
		require.JSONEq(t, `"v"`, string(rec.Data))
		require.Equal(t, 5*time.Second, rec.TTL)
	})

	t.Run("store failures degrade to memory", func(t *testing.T) {
		t.Parallel()

		store := &failingStore{}
		c := newCache(t, newFakeClock(), warmcache.WithPersistentStore(store))
		var calls atomic.Int32
		fetch := counter(&calls, "v")

		v, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v", v)

		v, err = c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		require.Equal(t, "v", v)
		require.Equal(t, int32(1), calls.Load())

		require.NoError(t, c.Invalidate(context.Background(), "k"))
		require.Positive(t, c.Metrics().PersistErrors)
		require.Positive(t, store.calls.Load())
	})

	t.Run("values beyond the persistent budget stay in memory", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.PersistMaxSize = 4
		store := persist.NewMemory()
		c, err := warmcache.New[string](cfg, warmcache.WithPersistentStore(store))
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

		require.NoError(t, c.Set(context.Background(), "big", "too long for the budget"))
		require.NoError(t, c.Set(context.Background(), "ok", "v"))

		v, ok := c.Peek(context.Background(), "big")
		require.True(t, ok)
		require.Equal(t, "too long for the budget", v)

		_, err = store.Get(context.Background(), "big")
		require.ErrorIs(t, err, persist.ErrNotFound)
		_, err = store.Get(context.Background(), "ok")
		require.NoError(t, err)
		require.Zero(t, c.Metrics().PersistErrors)
	})

	t.Run("store size budget rejection is not a persist error", func(t *testing.T) {
		t.Parallel()

		store := persist.NewMemory(persist.WithMemoryMaxSize(4))
		c := newCache(t, newFakeClock(), warmcache.WithPersistentStore(store))

		require.NoError(t, c.Set(context.Background(), "big", "too long for the store"))
		require.Zero(t, store.Len())
		require.Zero(t, c.Metrics().PersistErrors)
	})
}

// --- Cache: Prefetcher ---

func TestCache_Prefetcher(t *testing.T) {
	t.Parallel()

	t.Run("warms targets before they are read", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, nil)
		var calls atomic.Int32
		q, err := c.Prefetcher(func(target string) warmcache.Fetcher[string] {
			return counter(&calls, "value-of-"+target)
		})
		require.NoError(t, err)

		_, err = q.Enqueue("a", prefetch.WithPriority(prefetch.PriorityHigh))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			v, ok := c.Peek(context.Background(), "a")
			return ok && v == "value-of-a"
		}, time.Second, 5*time.Millisecond)

		v, err := c.Get(context.Background(), "a", func(context.Context) (string, error) {
			t.Error("prefetched target must not be fetched again")
			return "", nil
		})
		require.NoError(t, err)
		require.Equal(t, "value-of-a", v)
	})

	t.Run("unknown target fails the task", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, nil)
		settled := make(chan prefetch.State, 1)
		q, err := c.Prefetcher(
			func(string) warmcache.Fetcher[string] { return nil },
			prefetch.WithOnSettled(func(_ prefetch.Task, s prefetch.State) { settled <- s }),
		)
		require.NoError(t, err)

		_, err = q.Enqueue("nope")
		require.NoError(t, err)
		require.Equal(t, prefetch.StateFailed, <-settled)
	})

	t.Run("invalidate lets the target be prefetched again", func(t *testing.T) {
		t.Parallel()

		c := newCache(t, nil)
		var calls atomic.Int32
		q, err := c.Prefetcher(func(string) warmcache.Fetcher[string] {
			return counter(&calls, "v1", "v2")
		})
		require.NoError(t, err)

		_, err = q.Enqueue("a")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return q.Prefetched("a") }, time.Second, 5*time.Millisecond)

		_, err = q.Enqueue("a")
		require.ErrorIs(t, err, prefetch.ErrAlreadyKnown)

		require.NoError(t, c.Invalidate(context.Background(), "a"))
		_, err = q.Enqueue("a")
		require.NoError(t, err)
	})
}

// --- Cache: Shutdown ---

func TestCache_Shutdown(t *testing.T) {
	t.Parallel()

	c, err := warmcache.New[string](testConfig())
	require.NoError(t, err)

	q, err := c.Prefetcher(func(string) warmcache.Fetcher[string] { return nil })
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))

	_, err = c.Get(context.Background(), "k", func(context.Context) (string, error) { return "v", nil })
	require.ErrorIs(t, err, warmcache.ErrClosed)
	require.ErrorIs(t, c.Set(context.Background(), "k", "v"), warmcache.ErrClosed)
	require.ErrorIs(t, c.Invalidate(context.Background(), "k"), warmcache.ErrClosed)

	_, err = q.Enqueue("a")
	require.ErrorIs(t, err, prefetch.ErrClosed)
}

func TestCache_ShutdownRacingPrefetcher(t *testing.T) {
	t.Parallel()

	c, err := warmcache.New[string](testConfig())
	require.NoError(t, err)

	resolve := func(string) warmcache.Fetcher[string] { return nil }
	queues := make(chan *prefetch.Queue, 200)
	var lastErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(queues)
		for range cap(queues) {
			q, err := c.Prefetcher(resolve)
			if err != nil {
				lastErr = err
				return
			}
			queues <- q
		}
	}()

	require.NoError(t, c.Shutdown(context.Background()))
	wg.Wait()

	if lastErr != nil {
		require.ErrorIs(t, lastErr, warmcache.ErrClosed)
	}
	for q := range queues {
		_, err := q.Enqueue("a")
		require.ErrorIs(t, err, prefetch.ErrClosed, "every queue handed out must be closed by Shutdown")
	}
}
