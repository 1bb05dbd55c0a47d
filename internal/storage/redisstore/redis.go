// Package redisstore implements storage.Store on Redis.
//
// Each paste is a hash at <prefix><id>. Pastes with an expiry are also listed
// in a sorted set scored by expiry in unix milliseconds, which DeleteExpired
// walks, and carry a PEXPIREAT an hour past expiry as a fallback. Every
// multi-step mutation runs as a Lua script so it is atomic on the server.
// Scripts touch a paste hash and the shared index together, so the store
// targets a single Redis node and not Redis Cluster.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"burnpaste/internal/storage"
)

const (
	defaultPrefix  = "burnpaste:paste:"
	defaultTimeout = 3 * time.Second
	expiryIndexKey = "expiry"

	// Expired hashes linger this long past expires_at before Redis evicts them.
	retention = time.Hour
)

// KEYS[1] paste hash, KEYS[2] expiry index.
// ARGV: id, content, ttl_seconds, max_views, views, created_at, expires_at ("" when none),
// retention in ms.
var createScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	redis.call("HSET", KEYS[1],
		"content", ARGV[2],
		"ttl_seconds", ARGV[3],
		"max_views", ARGV[4],
		"views", ARGV[5],
		"created_at", ARGV[6],
		"expires_at", ARGV[7])
	if ARGV[7] ~= "" then
		redis.call("ZADD", KEYS[2], tonumber(ARGV[7]), ARGV[1])
		redis.call("PEXPIREAT", KEYS[1], tonumber(ARGV[7]) + tonumber(ARGV[8]))
	end
	return 1
`)

// Returns -1 when the paste is missing, otherwise the new view count.
var incrementScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return -1
	end
	return redis.call("HINCRBY", KEYS[1], "views", 1)
`)

// Returns {status, views}: 0 granted, 1 limit reached, 2 missing.
var claimScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return {2, 0}
	end
	local views = tonumber(redis.call("HGET", KEYS[1], "views") or "0")
	local limit = tonumber(redis.call("HGET", KEYS[1], "max_views") or "0")
	if limit > 0 and views >= limit then
		return {1, views}
	end
	return {0, redis.call("HINCRBY", KEYS[1], "views", 1)}
`)

// KEYS[1] expiry index, KEYS[2..n] paste hashes. ARGV[1] exclusive cutoff in
// ms, ARGV[2..n] the ids matching KEYS[2..n]. Entries re-scored since the
// range query are skipped.
var deleteExpiredScript = redis.NewScript(`
	local cutoff = tonumber(ARGV[1])
	local removed = 0
	for i = 2, #KEYS do
		local score = redis.call("ZSCORE", KEYS[1], ARGV[i])
		if score and tonumber(score) < cutoff then
			removed = removed + redis.call("DEL", KEYS[i])
			redis.call("ZREM", KEYS[1], ARGV[i])
		end
	end
	return removed
`)

// sweepBatch caps how many pastes one deleteExpiredScript call removes.
const sweepBatch = 500

// Store implements storage.Store on a go-redis client.
type Store struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// Open parses a redis:// URL, connects and pings the server.
func Open(ctx context.Context, url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 5
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Store{client: client, prefix: defaultPrefix, timeout: defaultTimeout}, nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) indexKey() string {
	return s.prefix + expiryIndexKey
}

// Create stores a paste unless its id is taken.
func (s *Store) Create(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expires := ""
	if !paste.ExpiresAt.IsZero() {
		expires = strconv.FormatInt(paste.ExpiresAt.UnixMilli(), 10)
	}
	created, err := createScript.Run(ctx, s.client,
		[]string{s.key(paste.ID), s.indexKey()},
		paste.ID,
		paste.Content,
		paste.TTLSeconds,
		paste.MaxViews,
		paste.Views,
		paste.CreatedAt.UnixMilli(),
		expires,
		retention.Milliseconds(),
	).Int()
	if err != nil {
		return errors.Wrap(err, "create paste")
	}
	if created == 0 {
		return storage.ErrDuplicateID
	}
	return nil
}

// Get fetches a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}
	return decode(id, fields)
}

func decode(id string, fields map[string]string) (*storage.Paste, error) {
	ints := make(map[string]int64, 5)
	for _, name := range []string{"ttl_seconds", "max_views", "views", "created_at", "expires_at"} {
		raw := fields[name]
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", name)
		}
		ints[name] = v
	}

	paste := &storage.Paste{
		ID:         id,
		Content:    fields["content"],
		TTLSeconds: int(ints["ttl_seconds"]),
		MaxViews:   int(ints["max_views"]),
		Views:      int(ints["views"]),
		CreatedAt:  time.UnixMilli(ints["created_at"]).UTC(),
	}
	if ms, ok := ints["expires_at"]; ok {
		paste.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	return paste, nil
}

// IncrementView adds one to the view counter.
func (s *Store) IncrementView(ctx context.Context, id string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	views, err := incrementScript.Run(ctx, s.client, []string{s.key(id)}).Int()
	if err != nil {
		return 0, errors.Wrap(err, "increment views")
	}
	if views < 0 {
		return 0, storage.ErrNotFound
	}
	return views, nil
}

// ClaimView adds one to the view counter only while views < max_views.
func (s *Store) ClaimView(ctx context.Context, id string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := claimScript.Run(ctx, s.client, []string{s.key(id)}).Int64Slice()
	if err != nil {
		return 0, errors.Wrap(err, "claim view")
	}
	if len(res) != 2 {
		return 0, errors.Errorf("claim view: unexpected reply %v", res)
	}
	switch res[0] {
	case 0:
		return int(res[1]), nil
	case 1:
		return int(res[1]), storage.ErrViewLimitReached
	default:
		return 0, storage.ErrNotFound
	}
}

// DeleteExpired removes pastes whose expiry is strictly before the provided time.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := before.UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "list expired")
	}

	total := 0
	for len(ids) > 0 {
		batch := ids[:min(sweepBatch, len(ids))]
		ids = ids[len(batch):]

		keys := make([]string, 0, len(batch)+1)
		args := make([]any, 0, len(batch)+1)
		keys = append(keys, s.indexKey())
		args = append(args, cutoff)
		for _, id := range batch {
			keys = append(keys, s.key(id))
			args = append(args, id)
		}

		removed, err := deleteExpiredScript.Run(ctx, s.client, keys, args...).Int()
		if err != nil {
			return total, errors.Wrap(err, "delete expired")
		}
		total += removed
	}
	return total, nil
}

// Ping checks the server connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return errors.Wrap(s.client.Ping(ctx).Err(), "ping redis")
}

// Close releases the client.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
