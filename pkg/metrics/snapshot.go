package metrics

// Snapshot is a point-in-time view of a cache's counters and gauges.
type Snapshot struct {
	EntryCount       int   `json:"entry_count"`
	TotalSizeBytes   int64 `json:"total_size_bytes"`
	HitCount         int64 `json:"hit_count"`
	MissCount        int64 `json:"miss_count"`
	EvictionCount    int64 `json:"eviction_count"`
	PendingCallCount int   `json:"pending_call_count"`

	StaleCount      int64 `json:"stale_count"`
	RefreshFailures int64 `json:"refresh_failures"`
	PersistErrors   int64 `json:"persist_errors"`
}

// HitRatio returns hits / (hits + misses), or 0 before the first lookup.
func (s Snapshot) HitRatio() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

// Source produces snapshots on demand.
type Source interface {
	Metrics() Snapshot
}

// SourceFunc adapts a function to Source.
type SourceFunc func() Snapshot

func (f SourceFunc) Metrics() Snapshot { return f() }
