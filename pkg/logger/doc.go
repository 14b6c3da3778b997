// Package logger builds the structured logger used across warmcache.
//
// Loggers are plain *slog.Logger values. [New] picks JSON or text output and
// the level from a [Config], and optionally fans records out to Sentry:
// errors become Sentry issues, warnings are stored as Sentry logs.
//
//	log := logger.New(os.Stdout, cfg.Log,
//		logger.CacheKeyExtractor(),
//		logger.ComponentExtractor(),
//	)
//
// # Context extractors
//
// A [ContextExtractor] turns a context value into an attribute at log time.
// Background work tags its context so every record it emits can be traced
// back to a key:
//
//	ctx = logger.WithComponent(logger.WithCacheKey(ctx, key), "revalidate")
//	log.WarnContext(ctx, "background refresh failed", slog.Any("error", err))
//
// Components that accept a logger default to [NewNope].
package logger
