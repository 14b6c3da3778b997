// Command warmcached is an HTTP read-through cache in front of a bulk item
// API. It serves items stale-while-revalidate from memory and an optional
// persistent tier, and prefetches items on hints.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/dmitrymomot/warmcache/internal/server"
	"github.com/dmitrymomot/warmcache/pkg/logger"
	"github.com/dmitrymomot/warmcache/pkg/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("WARMCACHED_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(context.Background(), *configPath); err != nil {
		slog.Error("warmcached failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := logger.New(os.Stdout, cfg.Log,
		logger.CacheKeyExtractor(),
		logger.ComponentExtractor(),
		server.RequestIDExtractor(),
	)
	defer logger.Flush(2 * time.Second)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	reportCtx, stopReport := context.WithCancel(ctx)
	if cfg.MetricsInterval > 0 {
		go func() {
			_ = metrics.NewReporter(a.cache, metrics.LogSink(log), cfg.MetricsInterval).Run(reportCtx)
		}()
	}

	return server.Run(ctx, a.routes(),
		server.Address(cfg.Addr),
		server.Logger(log),
		server.ShutdownTimeout(cfg.ShutdownTimeout),
		server.ShutdownHook(func(context.Context) error {
			stopReport()
			return nil
		}),
		server.ShutdownHook(a.shutdown),
	)
}
