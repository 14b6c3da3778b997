package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/warmcache"
	"github.com/dmitrymomot/warmcache/pkg/db"
	"github.com/dmitrymomot/warmcache/pkg/health"
	"github.com/dmitrymomot/warmcache/pkg/persist"
	"github.com/dmitrymomot/warmcache/pkg/redis"
)

// deps holds the external connections opened for the configured tier and
// the hint queue, with their health checks and closers.
type deps struct {
	store   persist.Store
	pool    *pgxpool.Pool
	checks  health.Checks
	closers []func(context.Context) error
}

// openDeps connects whatever the config asks for. The persistent tier check
// is optional: a broken tier degrades the cache to memory, it does not make
// the daemon unready. The database is critical only for hints.
func openDeps(ctx context.Context, cfg config, log *slog.Logger) (*deps, error) {
	d := &deps{checks: health.Checks{}}

	if cfg.Tier == tierPostgres || cfg.Hints.Enabled {
		pool, err := db.Connect(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("warmcached: connect postgres: %w", err)
		}
		d.pool = pool
		d.closers = append(d.closers, db.Shutdown(pool))
	}

	maxSize := cfg.Cache.PersistMaxSize
	if maxSize == 0 {
		maxSize = warmcache.DefaultConfig().PersistMaxSize
	}

	switch cfg.Tier {
	case tierMemory:
		d.store = persist.NewMemory(persist.WithMemoryMaxSize(maxSize))

	case tierRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			_ = d.close(ctx)
			return nil, fmt.Errorf("warmcached: connect redis: %w", err)
		}
		d.store = persist.NewRedis(client,
			persist.WithPrefix("warmcached"),
			persist.WithRedisMaxSize(maxSize),
		)
		d.checks["redis"] = redis.Healthcheck(client)
		d.closers = append(d.closers, redis.Shutdown(client))

	case tierPostgres:
		store, err := persist.NewPostgres(ctx, d.pool,
			persist.WithMigrations(cfg.DB.MigrationsTable, log),
			persist.WithPostgresMaxSize(maxSize),
		)
		if err != nil {
			_ = d.close(ctx)
			return nil, err
		}
		d.store = store
		d.checks["postgres"] = store.Healthcheck

	case tierS3:
		store, err := persist.NewS3(cfg.S3, persist.WithS3MaxSize(maxSize))
		if err != nil {
			_ = d.close(ctx)
			return nil, err
		}
		d.store = store
	}

	log.Info("persistent tier ready",
		slog.String("tier", cfg.Tier),
		slog.Int64("max_size", maxSize),
	)
	return d, nil
}

func (d *deps) close(ctx context.Context) error {
	var first error
	for _, fn := range d.closers {
		if err := fn(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
