// Package metrics exposes cache counters.
//
// A [Snapshot] carries entry count, accounted size, hits, misses, evictions
// and in-flight coalesced calls, plus stale serves, failed revalidations and
// persistent tier errors. Anything with a Metrics() Snapshot method is a
// [Source].
//
// Snapshots are pulled by Prometheus through [Collector], or pushed on an
// interval by [Reporter]:
//
//	reg := metrics.NewRegistry(metrics.NewCollector("warmcache", "items", cache))
//	mux.Handle("/metrics", metrics.Handler(reg))
//
//	go metrics.NewReporter(cache, metrics.LogSink(log), time.Minute).Run(ctx)
package metrics
