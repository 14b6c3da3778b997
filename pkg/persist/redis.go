package persist

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// setScript writes one record and keeps the size accounting in step.
// Records with the lowest StoredAt score are evicted while the total would
// exceed the limit.
//
// KEYS: record, index, sizes, total.
// ARGV: member, data, expiry ms (0 = none), score, size, limit, record prefix.
var setScript = redis.NewScript(`
local size = tonumber(ARGV[5])
local limit = tonumber(ARGV[6])
local total = tonumber(redis.call('GET', KEYS[4]) or '0')
total = total - tonumber(redis.call('HGET', KEYS[3], ARGV[1]) or '0')
redis.call('ZREM', KEYS[2], ARGV[1])

local evicted = 0
while limit > 0 and total + size > limit do
	local oldest = redis.call('ZRANGE', KEYS[2], 0, 0)
	if #oldest == 0 then
		break
	end
	local victim = oldest[1]
	total = total - tonumber(redis.call('HGET', KEYS[3], victim) or '0')
	redis.call('DEL', ARGV[7] .. victim)
	redis.call('HDEL', KEYS[3], victim)
	redis.call('ZREM', KEYS[2], victim)
	evicted = evicted + 1
end

if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[5])
redis.call('SET', KEYS[4], tostring(total + size))
return evicted
`)

// removeScript deletes records with their index and size entries.
//
// KEYS: index, sizes, total.
// ARGV: record prefix, members...
var removeScript = redis.NewScript(`
local freed = 0
for i = 2, #ARGV do
	local member = ARGV[i]
	freed = freed + tonumber(redis.call('HGET', KEYS[2], member) or '0')
	redis.call('DEL', ARGV[1] .. member)
	redis.call('HDEL', KEYS[2], member)
	redis.call('ZREM', KEYS[1], member)
end
if freed > 0 then
	redis.call('DECRBY', KEYS[3], freed)
end
return #ARGV - 1
`)

// Redis is a Store backed by Redis.
//
// Each record is a JSON document under "{prefix}:r:{key}" with a native
// expiry matching its remaining TTL. A sorted set "{prefix}:idx" scored by
// StoredAt (unix milliseconds) lets Sweep and eviction find old records
// without SCAN. Record sizes live in the hash "{prefix}:sz" and their sum in
// "{prefix}:bytes". A record that expires natively stays counted until it is
// swept or evicted, so the accounting never under-reports.
type Redis struct {
	client redis.UniversalClient
	opts   *redisOptions
}

// NewRedis creates a Redis-backed store.
// The client is usually obtained from pkg/redis.Connect.
//
// Example:
//
//	client, err := redis.Connect(ctx, redis.Config{URL: os.Getenv("REDIS_URL")})
//	if err != nil {
//		return err
//	}
//	store := persist.NewRedis(client, persist.WithPrefix("users"))
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	o := defaultRedisOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Redis{
		client: client,
		opts:   o,
	}
}

// Get retrieves a record by key.
// Returns ErrNotFound if the key does not exist.
func (r *Redis) Get(ctx context.Context, key string) (Record, error) {
	data, err := r.client.Get(ctx, r.recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	return decodeRecord(data)
}

// Set writes the record, indexes it by StoredAt and evicts the oldest
// records when the size budget requires it, all in one script call.
// Records whose TTL already elapsed are not written.
func (r *Redis) Set(ctx context.Context, rec Record) error {
	if r.opts.maxSize > 0 && rec.Size() > r.opts.maxSize {
		return ErrTooLarge
	}

	now := r.opts.now()
	if rec.StoredAt.IsZero() {
		rec.StoredAt = now
	}

	var expiry int64
	if rec.TTL >= 0 {
		remaining := rec.Remaining(now)
		if remaining <= 0 {
			return nil
		}
		expiry = max(remaining.Milliseconds(), 1)
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return setScript.Run(ctx, r.client,
		[]string{r.recordKey(rec.Key), r.indexKey(), r.sizesKey(), r.totalKey()},
		rec.Key,
		data,
		expiry,
		rec.StoredAt.UnixMilli(),
		rec.Size(),
		max(r.opts.maxSize, 0),
		r.recordPrefix(),
	).Err()
}

// Delete removes a key with its index and size entries.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.remove(ctx, []string{key})
}

// Clear removes all records, the index and the accounting using SCAN over
// the prefix. SCAN does not block the server, so this is safe in production.
func (r *Redis) Clear(ctx context.Context) error {
	pattern := r.opts.prefix + ":*"
	var cursor uint64

	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}

		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Sweep removes records stored before now-maxAge in batches read from the
// timestamp index.
func (r *Redis) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := r.opts.now().Add(-maxAge).UnixMilli()
	removed := 0

	for {
		keys, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   "(" + strconv.FormatInt(cutoff, 10),
			Count: r.opts.sweepBatch,
		}).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) == 0 {
			return removed, nil
		}

		if err := r.remove(ctx, keys); err != nil {
			return removed, err
		}
		removed += len(keys)

		if int64(len(keys)) < r.opts.sweepBatch {
			return removed, nil
		}
	}
}

// Size returns the accounted size of stored record data in bytes.
func (r *Redis) Size(ctx context.Context) (int64, error) {
	n, err := r.client.Get(ctx, r.totalKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Close is a no-op. The Redis client lifecycle is managed separately by the
// caller (via pkg/redis.Shutdown).
func (r *Redis) Close() error {
	return nil
}

// Healthcheck pings the underlying client.
func (r *Redis) Healthcheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}

func (r *Redis) remove(ctx context.Context, members []string) error {
	args := make([]any, 0, len(members)+1)
	args = append(args, r.recordPrefix())
	for _, m := range members {
		args = append(args, m)
	}

	return removeScript.Run(ctx, r.client,
		[]string{r.indexKey(), r.sizesKey(), r.totalKey()},
		args...,
	).Err()
}

func (r *Redis) recordPrefix() string {
	return r.opts.prefix + ":r:"
}

func (r *Redis) recordKey(key string) string {
	return r.recordPrefix() + key
}

func (r *Redis) indexKey() string {
	return r.opts.prefix + ":idx"
}

func (r *Redis) sizesKey() string {
	return r.opts.prefix + ":sz"
}

func (r *Redis) totalKey() string {
	return r.opts.prefix + ":bytes"
}

var _ Store = (*Redis)(nil)
