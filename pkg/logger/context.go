package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	cacheKeyCtx ctxKey = iota
	componentCtx
)

// WithCacheKey stores the cache key being served in ctx.
func WithCacheKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, cacheKeyCtx, key)
}

// WithComponent stores the name of the subsystem doing the work in ctx,
// for example "revalidate" or "prefetch".
func WithComponent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, componentCtx, name)
}

// CacheKeyExtractor adds "cache_key" to records logged with WithCacheKey.
func CacheKeyExtractor() ContextExtractor {
	return stringExtractor(cacheKeyCtx, "cache_key")
}

// ComponentExtractor adds "component" to records logged with WithComponent.
func ComponentExtractor() ContextExtractor {
	return stringExtractor(componentCtx, "component")
}

// StringValueExtractor adds attr for any string stored in ctx under key.
// It lets hosts surface values such as request IDs set by their router.
func StringValueExtractor(key any, attr string) ContextExtractor {
	return stringExtractor(key, attr)
}

func stringExtractor(key any, attr string) ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			return slog.String(attr, v), true
		}
		return slog.Attr{}, false
	}
}
