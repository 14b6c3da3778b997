// Package warmcache is an adaptive two-tier cache with stale-while-revalidate
// reads, request coalescing, batching and prefetching.
//
// A Cache keeps values in a bounded in-memory tier and, optionally, in a
// durable persist.Store (Redis, Postgres, S3 or in-process). Reads are served
// from the first tier holding a valid entry. Entries older than the stale
// time are returned immediately and refreshed in the background. Concurrent
// misses for one key share a single fetch.
//
// # Usage
//
//	c, err := warmcache.New[User](warmcache.DefaultConfig(),
//		warmcache.WithPersistentStore(persist.NewRedis(client)),
//		warmcache.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//	defer c.Shutdown(context.Background())
//
//	u, err := c.Get(ctx, "user:42", func(ctx context.Context) (User, error) {
//		return repo.User(ctx, 42)
//	})
//
// # Invalidation
//
// Invalidate drops one key from both tiers. BumpVersion invalidates every
// entry at once by advancing the version stamped on new entries; older
// entries are discarded lazily when read or swept.
//
// A fetch that was running when its key was invalidated still answers its
// callers, but its result is not cached. If the persistent tier fails to
// delete the key, the stale record is ignored until a newer write replaces it.
//
// # Degraded Operation
//
// Persistent tier failures never fail a read. They are logged, counted in
// Metrics().PersistErrors and treated as a miss, so the cache keeps working
// from memory and the fetcher.
//
// # Prefetching
//
// Prefetcher returns a prefetch.Queue bound to the cache. Attach trigger
// sources to it, or enqueue targets directly, to warm entries before they
// are requested.
//
// # Batching
//
// NewBatcher builds a batch.Batcher from the same Config, for fetchers that
// call a bulk origin API.
package warmcache
