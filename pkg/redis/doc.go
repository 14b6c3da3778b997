// Package redis connects the shared persistent tier to Redis.
//
// It wraps [github.com/redis/go-redis/v9] with a [Config] that can be loaded
// from environment variables or YAML, startup retries, a readiness check and
// a shutdown hook. The returned client is handed to persist.NewRedis.
//
// # Usage
//
//	client, err := redis.Connect(ctx, redis.Config{URL: os.Getenv("REDIS_URL")})
//	if err != nil {
//		return err
//	}
//	store := persist.NewRedis(client, persist.WithPrefix("items"))
//
// Zero-valued fields fall back to [DefaultConfig]. Read and write timeouts
// default to 500ms because every cache miss may wait on this client.
//
// # Health Checks
//
// [Healthcheck] returns a func(context.Context) error for health.Check.
//
// # Errors
//
//   - [ErrEmptyConnectionURL] - no URL configured
//   - [ErrFailedToParseURL] - invalid URL or scheme
//   - [ErrConnectionFailed] - PING failed after all retry attempts
//   - [ErrHealthcheckFailed] - readiness PING failed
package redis
