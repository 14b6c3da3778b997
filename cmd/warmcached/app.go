package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/warmcache"
	"github.com/dmitrymomot/warmcache/pkg/batch"
	"github.com/dmitrymomot/warmcache/pkg/db"
	"github.com/dmitrymomot/warmcache/pkg/health"
	"github.com/dmitrymomot/warmcache/pkg/hints"
	"github.com/dmitrymomot/warmcache/pkg/metrics"
	"github.com/dmitrymomot/warmcache/pkg/prefetch"
)

type itemCache = warmcache.Cache[json.RawMessage]

// app wires the cache, the origin batcher and the prefetch triggers.
type app struct {
	cfg      config
	log      *slog.Logger
	deps     *deps
	cache    *itemCache
	batcher  *batch.Batcher[string, lookup]
	queue    *prefetch.Queue
	manual   *prefetch.ManualSource
	cron     *prefetch.CronSource
	consumer *hints.Consumer
	registry *prometheus.Registry
	critical health.Checks
}

func newApp(ctx context.Context, cfg config, log *slog.Logger) (*app, error) {
	d, err := openDeps(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := buildApp(cfg, d, log)
	if err != nil {
		_ = d.close(ctx)
		return nil, err
	}

	if cfg.Hints.Enabled {
		if err := a.enableHints(ctx); err != nil {
			_ = a.shutdown(ctx)
			return nil, err
		}
	}
	return a, nil
}

// buildApp assembles everything that needs no network access.
func buildApp(cfg config, d *deps, log *slog.Logger) (*app, error) {
	c, err := warmcache.New[json.RawMessage](cfg.Cache,
		warmcache.WithPersistentStore(d.store),
		warmcache.WithLogger(log),
		warmcache.WithName("items"),
	)
	if err != nil {
		return nil, err
	}

	org := newOrigin(cfg.Origin.URL, cfg.Origin.Timeout)
	a := &app{
		cfg:      cfg,
		log:      log,
		deps:     d,
		cache:    c,
		batcher:  warmcache.NewBatcher[string, lookup](cfg.Cache, org.fetchMany, log),
		manual:   prefetch.NewManualSource(),
		critical: health.Checks{},
	}

	a.queue, err = c.Prefetcher(a.fetcher)
	if err != nil {
		_ = c.Shutdown(context.Background())
		_ = a.batcher.Close()
		return nil, err
	}
	a.queue.Attach(a.manual)

	if cfg.IdleSchedule != "" {
		a.cron, err = prefetch.NewCronSource(cfg.IdleSchedule)
		if err != nil {
			_ = c.Shutdown(context.Background())
			_ = a.batcher.Close()
			return nil, err
		}
		a.queue.Attach(a.cron)
		a.queue.WhenIdle(cfg.IdleTargets...)
		a.cron.Start()
	}

	a.registry = metrics.NewRegistry(metrics.NewCollector("warmcache", c.Name(), c))
	return a, nil
}

// enableHints starts delivering durable hints into the prefetch queue.
func (a *app) enableHints(ctx context.Context) error {
	if err := hints.Migrate(ctx, a.deps.pool); err != nil {
		return err
	}

	opts := []hints.Option{hints.WithLogger(a.log)}
	if len(a.cfg.Hints.Targets) > 0 {
		periodic := make([]hints.Hint, 0, len(a.cfg.Hints.Targets))
		for _, target := range a.cfg.Hints.Targets {
			periodic = append(periodic, hints.Hint{Target: target, Priority: prefetch.PriorityLow.String()})
		}
		opts = append(opts, hints.WithPeriodicHints(a.cfg.Hints.Schedule, periodic...))
	}

	consumer, err := hints.NewConsumer(a.deps.pool, a.queue.Enqueue, opts...)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	a.consumer = consumer
	a.critical["database"] = db.Healthcheck(a.deps.pool)
	a.critical["hints"] = hints.Healthcheck(consumer)
	return nil
}

// fetcher loads one item through the batcher, so concurrent misses for
// different ids share one origin request.
func (a *app) fetcher(id string) warmcache.Fetcher[json.RawMessage] {
	return func(ctx context.Context) (json.RawMessage, error) {
		res, err := a.batcher.Add(ctx, id)
		if err != nil {
			return nil, err
		}
		if !res.Found {
			return nil, errItemNotFound
		}
		return res.Data, nil
	}
}

// shutdown stops producers before the cache, then closes connections.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil && !errors.Is(err, hints.ErrNotStarted) {
			errs = append(errs, err)
		}
	}
	if a.cron != nil {
		a.cron.Stop()
	}
	errs = append(errs, a.cache.Shutdown(ctx), a.batcher.Close(), a.deps.close(ctx))
	return errors.Join(errs...)
}
