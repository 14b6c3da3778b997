// Package cache provides the in-process tier of warmcache: a generic,
// size-bounded key-value store with TTL and generation based invalidation.
//
// # Validity
//
// Every stored [Entry] records when it was created, its TTL and the
// [Generation] version it was written under. An entry is valid while
//
//	now - CreatedAt <= TTL  &&  Version == generation.Current()
//
// Invalid entries read as [ErrNotFound] and are removed on access, by the
// background janitor, or when room is needed for a new entry. Calling
// [Generation.Bump] invalidates every entry at once without enumerating them:
//
//	gen := cache.NewGeneration()
//	c := cache.NewMemory[User](cache.WithGeneration(gen))
//	// ... after a deploy:
//	gen.Bump()
//
// TTL semantics for Set:
//   - Positive duration: entry expires after this duration
//   - Zero: use the configured default TTL (5 minutes by default)
//   - Negative: entry never expires by time
//
// # Size Budget
//
// [WithMaxSize] bounds the sum of entry sizes. Sizes come from an explicit
// hint ([Memory.SetSized]) or from the configured [Sizer], which defaults to
// the length of the JSON encoding. When an insert does not fit, invalid
// entries are dropped first, then entries in CreatedAt order, oldest first.
// Reads never reorder entries: this is insertion recency, not LRU. An entry
// larger than the whole budget is rejected with [ErrEntryTooLarge].
//
//	c := cache.NewMemory[[]byte](
//	    cache.WithMaxSize(64 << 20),
//	    cache.WithDefaultTTL(time.Minute),
//	)
//	c.SetSizer(func(b []byte) int64 { return int64(len(b)) })
//
// # Serialization
//
// Tiers that hold bytes use a [Marshaler]. [JSONMarshaler] is the default.
//
// # Error Handling
//
//   - [ErrNotFound]: key does not exist or the entry is invalid
//   - [ErrClosed]: operation on a closed cache
//   - [ErrEntryTooLarge]: single entry exceeds the size budget
//   - [ErrMarshal] / [ErrUnmarshal]: serialization failed
package cache
