// Package db opens the PostgreSQL pool shared by the durable cache tier
// ([github.com/dmitrymomot/warmcache/pkg/persist.Postgres]) and the hint
// queue ([github.com/dmitrymomot/warmcache/pkg/hints]).
//
// It wraps [github.com/jackc/pgx/v5/pgxpool] with startup retries, a
// readiness check and goose-based migrations
// ([github.com/pressly/goose/v3]) read from an embedded file system.
//
// # Configuration
//
// [Config] is populated from environment variables:
//
//	DATABASE_CONN_URL           - PostgreSQL connection URL (required)
//	DATABASE_MAX_OPEN_CONNS     - Maximum open connections (default: 10)
//	DATABASE_MIN_CONNS          - Minimum idle connections (default: 2)
//	DATABASE_HEALTHCHECK_PERIOD - Health check interval (default: 1m)
//	DATABASE_MAX_CONN_IDLE_TIME - Maximum connection idle time (default: 10m)
//	DATABASE_MAX_CONN_LIFETIME  - Maximum connection lifetime (default: 30m)
//	DATABASE_RETRY_ATTEMPTS     - Connection retry attempts (default: 3)
//	DATABASE_RETRY_INTERVAL     - Base retry interval (default: 5s)
//	DATABASE_MIGRATIONS_TABLE   - Migrations table name (default: warmcache_migrations)
//
// # Usage
//
//	pool, err := db.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	store, err := persist.NewPostgres(ctx, pool, persist.WithMigrations(cfg.MigrationsTable, log))
//
// # Error Handling
//
//   - [ErrEmptyConnectionString] - no connection URL configured
//   - [ErrFailedToParseDBConfig] - invalid connection URL
//   - [ErrFailedToOpenDBConnection] - connection failed after all retries
//   - [ErrHealthcheckFailed] - ping failed
//   - [ErrSetDialect] / [ErrApplyMigrations] - migration failures
//
// Errors are wrapped using [errors.Join] to preserve the original cause.
package db
