// Package coalesce de-duplicates concurrent work per key.
//
// A [Group] runs at most one call per key. Callers that arrive while the call
// is in flight, or within a short grace delay after it completes, receive the
// same value or error instead of running the function again.
//
//	g := coalesce.New[User](coalesce.WithTimeout(5*time.Second))
//	defer g.Close()
//
//	u, err := g.Do(ctx, "user:42", func(ctx context.Context) (User, error) {
//		return repo.Find(ctx, 42)
//	})
//
// # Cancellation and timeouts
//
// The function runs on a context owned by the group, bounded by the timeout
// and by [Group.Close]. A caller whose own context ends stops waiting with
// ctx.Err() while the call continues for everyone else. When the timeout
// fires the slot is released and every waiter receives [ErrTimeout].
//
// # Failure accounting
//
// Consecutive failures are counted per key. Once a key reaches the retry
// limit, [Group.Do] fails fast with [ErrMaxRetriesExceeded] (joined with the
// last error) until the cooldown elapses since the last failure. A success or
// [Group.Reset] clears the count.
//
// A background sweeper drops completed calls past their grace delay and
// failure records older than the cooldown.
package coalesce
