// Package persist implements the durable tier of the cache.
//
// A [Store] holds serialized [Record] values keyed by string. The in-memory
// tier writes through to it and consults it on a miss, so a store failure
// never fails a read: callers treat it as a miss and log it.
//
// # Backends
//
//   - [Memory] - process-local, useful in tests and single-node setups
//   - [Redis] - one JSON document per key with native expiry, plus a sorted
//     set index scored by StoredAt for sweeping
//   - [Postgres] - a single table managed by goose migrations embedded in
//     this package (see [Migrations])
//   - [S3] - one JSON object per key under a prefix; any S3-compatible
//     endpoint works
//
// # Expiry
//
// A record is expired once more than TTL has elapsed since FetchedAt.
// A negative TTL never expires. Independently of TTL, [Sweeper] removes
// records whose StoredAt is older than a configured maximum age:
//
//	sweeper := persist.NewSweeper(store, 24*time.Hour,
//		persist.WithSweepInterval(10*time.Minute),
//		persist.WithSweepLogger(log),
//	)
//	sweeper.Start(ctx)
//	defer sweeper.Stop()
//
// # Size Budget
//
// Every backend accepts a size budget in bytes of record data (see
// [Record.Size]). When a write would exceed it, the records with the oldest
// StoredAt are evicted first. A record bigger than the whole budget is
// rejected with [ErrTooLarge].
//
//	store := persist.NewMemory(persist.WithMemoryMaxSize(256 << 20))
//
// Redis keeps the accounting on the server, next to the records. S3 keeps it
// in the process and rebuilds it from a bucket listing after each sweep.
//
// # Errors
//
//   - [ErrNotFound] - key is absent
//   - [ErrTooLarge] - record exceeds the size budget
//   - [ErrClosed] - store was closed
//   - [ErrInvalidConfig] - constructor received unusable settings
//   - [ErrEncode], [ErrDecode] - record serialization failed
//   - [ErrHealthcheckFailed] - backend ping failed
package persist
