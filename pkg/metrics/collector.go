package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes a Source to Prometheus. The source is polled on every
// scrape, so nothing is recorded between scrapes.
type Collector struct {
	source Source

	entries   *prometheus.Desc
	size      *prometheus.Desc
	pending   *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	stale     *prometheus.Desc
	refreshes *prometheus.Desc
	persist   *prometheus.Desc
}

// NewCollector creates a collector whose metrics carry a "cache" label set
// to name.
func NewCollector(namespace, name string, source Source) *Collector {
	labels := prometheus.Labels{"cache": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", metric), help, nil, labels)
	}

	return &Collector{
		source:    source,
		entries:   desc("entries", "Number of live entries in the memory tier."),
		size:      desc("size_bytes", "Accounted size of the memory tier in bytes."),
		pending:   desc("pending_calls", "Coalesced fetches currently in flight."),
		hits:      desc("hits_total", "Lookups answered from a cache tier."),
		misses:    desc("misses_total", "Lookups that had to call the fetcher."),
		evictions: desc("evictions_total", "Entries evicted to stay within the size budget."),
		stale:     desc("stale_served_total", "Stale values served while revalidating."),
		refreshes: desc("refresh_failures_total", "Background revalidations that failed."),
		persist:   desc("persist_errors_total", "Persistent tier operations that failed."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.entries, c.size, c.pending, c.hits, c.misses,
		c.evictions, c.stale, c.refreshes, c.persist,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Metrics()

	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.EntryCount))
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.TotalSizeBytes))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.PendingCallCount))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.HitCount))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.MissCount))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.EvictionCount))
	ch <- prometheus.MustNewConstMetric(c.stale, prometheus.CounterValue, float64(s.StaleCount))
	ch <- prometheus.MustNewConstMetric(c.refreshes, prometheus.CounterValue, float64(s.RefreshFailures))
	ch <- prometheus.MustNewConstMetric(c.persist, prometheus.CounterValue, float64(s.PersistErrors))
}

var _ prometheus.Collector = (*Collector)(nil)

// NewRegistry returns a registry with the Go runtime and process collectors
// plus the given collectors.
func NewRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(extra...)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
