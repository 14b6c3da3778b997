package warmcache

import (
	"log/slog"

	"github.com/dmitrymomot/warmcache/pkg/batch"
)

// NewBatcher builds a batch coalescer sized by cfg. Options given by the
// caller override the config values.
func NewBatcher[I, R any](cfg Config, process batch.Processor[I, R], log *slog.Logger, opts ...batch.Option) *batch.Batcher[I, R] {
	cfg = cfg.withDefaults()
	base := []batch.Option{
		batch.WithMaxBatchSize(cfg.MaxBatchSize),
		batch.WithMaxWaitTime(cfg.MaxWaitTime),
		batch.WithTimeout(cfg.Timeout),
		batch.WithLogger(log),
	}
	return batch.New(process, append(base, opts...)...)
}
