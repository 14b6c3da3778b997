// Package prefetch warms a cache ahead of demand.
//
// A [Queue] holds prefetch tasks ordered by priority and drains them with a
// single worker, so prefetching never puts more than one request at a time on
// the backend. High priority tasks jump to the head of the queue; medium and
// low tasks wait at the tail, low behind medium.
//
// For every dequeued task the worker evaluates its condition, waits its
// delay, then calls the [Executor] with a timeout. A successful target is
// remembered as prefetched and is not queued again unless [Forced] is given.
// Failures are logged and dropped; they never reach application code.
//
// # Triggers
//
// Hints come from a [TriggerSource] implemented by the host:
//
//	q := prefetch.New(exec, prefetch.WithHoverDebounce(100*time.Millisecond))
//	src := prefetch.NewManualSource()
//	q.Attach(src)
//	q.WhenIdle("dashboard:summary")
//
//	src.Hover("item:42") // enqueued at high priority after the debounce
//	src.Enter("item:43") // enqueued at medium priority
//	src.Idle()           // idle candidates enqueued at low priority
//
// [CronSource] turns a cron schedule into idle ticks.
package prefetch
