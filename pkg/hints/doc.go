// Package hints carries prefetch hints between processes through River,
// the Postgres-backed job queue.
//
// A Publisher records that a target will be needed soon. A Consumer in the
// process that owns the cache delivers each hint into a prefetch.Queue, so
// hints survive restarts and can be produced by services that never touch
// the cache.
//
// # Usage
//
//	q, _ := c.Prefetcher(resolve)
//	consumer, err := hints.NewConsumer(pool, q.Enqueue,
//		hints.WithLogger(log),
//		hints.WithPeriodicHints("*/5 * * * *", hints.Hint{Target: "home"}),
//	)
//	if err != nil {
//		return err
//	}
//	if err := consumer.Start(ctx); err != nil {
//		return err
//	}
//	defer consumer.Stop(context.Background())
//
//	_ = consumer.Publish(ctx, hints.Hint{Target: "user:42", Priority: "high"},
//		hints.UniqueFor(time.Minute),
//	)
//
// # Delivery
//
// A hint for a target the queue already holds or has prefetched counts as
// delivered. Hints arriving after the queue closed are cancelled. Other
// failures, such as a full queue, are retried by River with backoff.
//
// # Migrations
//
// Run Migrate once before creating a consumer to create River's tables.
package hints
