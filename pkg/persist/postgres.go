package persist

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/warmcache/pkg/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema migrations of the Postgres store.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	queryGet = `SELECT key, data, fetched_at, stored_at, ttl_ms, version
		FROM warmcache_entries WHERE key = $1`
	queryUpsert = `INSERT INTO warmcache_entries (key, data, fetched_at, stored_at, ttl_ms, version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			fetched_at = EXCLUDED.fetched_at,
			stored_at = EXCLUDED.stored_at,
			ttl_ms = EXCLUDED.ttl_ms,
			version = EXCLUDED.version`
	queryDelete = `DELETE FROM warmcache_entries WHERE key = $1`
	queryClear  = `DELETE FROM warmcache_entries`
	querySweep  = `DELETE FROM warmcache_entries WHERE stored_at < $1`
	querySize   = `SELECT COALESCE(SUM(octet_length(data)), 0) FROM warmcache_entries`
	// queryTrim keeps the newest records whose running size fits the limit.
	queryTrim = `DELETE FROM warmcache_entries WHERE key IN (
		SELECT key FROM (
			SELECT key, SUM(octet_length(data)) OVER (ORDER BY stored_at DESC, key DESC) AS running
			FROM warmcache_entries
		) ranked WHERE running > $1)`
)

// PostgresOption configures the Postgres store.
type PostgresOption func(*postgresOptions)

type postgresOptions struct {
	now            func() time.Time
	logger         *slog.Logger
	migrationTable string
	maxSize        int64
	migrate        bool
}

// WithMigrations applies the embedded schema when the store is created.
func WithMigrations(table string, log *slog.Logger) PostgresOption {
	return func(o *postgresOptions) {
		o.migrate = true
		if table != "" {
			o.migrationTable = table
		}
		o.logger = log
	}
}

// WithPostgresClock overrides the time source. Intended for tests.
func WithPostgresClock(now func() time.Time) PostgresOption {
	return func(o *postgresOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPostgresMaxSize bounds the total size of stored record data in bytes.
// Every Set trims the oldest records by stored_at beyond the limit.
// Zero or less means unbounded.
func WithPostgresMaxSize(n int64) PostgresOption {
	return func(o *postgresOptions) {
		o.maxSize = n
	}
}

// Postgres is a Store backed by a single table.
// The btree index on stored_at keeps Sweep a range delete.
type Postgres struct {
	pool *pgxpool.Pool
	opts *postgresOptions
}

// NewPostgres creates a Postgres-backed store, optionally migrating the schema.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	if pool == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("postgres pool is required"))
	}

	o := &postgresOptions{
		now:            time.Now,
		migrationTable: "warmcache_migrations",
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.migrate {
		if err := db.Migrate(ctx, pool, Migrations(), o.migrationTable, o.logger); err != nil {
			return nil, err
		}
	}

	return &Postgres{pool: pool, opts: o}, nil
}

// Get retrieves a record by key.
func (p *Postgres) Get(ctx context.Context, key string) (Record, error) {
	var (
		rec     Record
		ttlMS   int64
		version int64
	)
	err := p.pool.QueryRow(ctx, queryGet, key).Scan(
		&rec.Key, &rec.Data, &rec.FetchedAt, &rec.StoredAt, &ttlMS, &version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	rec.TTL = time.Duration(ttlMS) * time.Millisecond
	if ttlMS < 0 {
		rec.TTL = -1
	}
	rec.Version = uint64(version)
	return rec, nil
}

// Set upserts the record. With a size budget the upsert and the trim of the
// oldest records run in one transaction.
func (p *Postgres) Set(ctx context.Context, rec Record) error {
	if p.opts.maxSize > 0 && rec.Size() > p.opts.maxSize {
		return ErrTooLarge
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = p.opts.now()
	}

	ttlMS := rec.TTL.Milliseconds()
	if rec.TTL < 0 {
		ttlMS = -1
	}

	args := []any{rec.Key, rec.Data, rec.FetchedAt, rec.StoredAt, ttlMS, int64(rec.Version)}
	if p.opts.maxSize <= 0 {
		_, err := p.pool.Exec(ctx, queryUpsert, args...)
		return err
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, queryUpsert, args...); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, queryTrim, p.opts.maxSize)
		return err
	})
}

// Delete removes a key.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, queryDelete, key)
	return err
}

// Clear removes every record.
func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, queryClear)
	return err
}

// Sweep deletes records stored before now-maxAge.
func (p *Postgres) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	tag, err := p.pool.Exec(ctx, querySweep, p.opts.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Size returns the total size of stored record data in bytes.
func (p *Postgres) Size(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, querySize).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close is a no-op. The pool is owned by the caller (see pkg/db.Shutdown).
func (p *Postgres) Close() error {
	return nil
}

// Healthcheck pings the pool.
func (p *Postgres) Healthcheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
