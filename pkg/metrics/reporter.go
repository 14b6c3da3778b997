package metrics

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives pushed snapshots.
type Sink func(ctx context.Context, s Snapshot)

// Reporter pushes snapshots of a Source to a Sink on a fixed interval.
type Reporter struct {
	source   Source
	sink     Sink
	interval time.Duration
}

// NewReporter creates a reporter. A non-positive interval defaults to one minute.
func NewReporter(source Source, sink Sink, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{source: source, sink: sink, interval: interval}
}

// Run pushes a snapshot every interval until ctx ends.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sink(ctx, r.source.Metrics())
		}
	}
}

// LogSink writes each snapshot as one info record.
func LogSink(log *slog.Logger) Sink {
	return func(ctx context.Context, s Snapshot) {
		log.InfoContext(ctx, "cache metrics",
			slog.Int("entries", s.EntryCount),
			slog.Int64("size_bytes", s.TotalSizeBytes),
			slog.Int64("hits", s.HitCount),
			slog.Int64("misses", s.MissCount),
			slog.Float64("hit_ratio", s.HitRatio()),
			slog.Int64("evictions", s.EvictionCount),
			slog.Int("pending_calls", s.PendingCallCount),
			slog.Int64("stale", s.StaleCount),
			slog.Int64("refresh_failures", s.RefreshFailures),
			slog.Int64("persist_errors", s.PersistErrors),
		)
	}
}
