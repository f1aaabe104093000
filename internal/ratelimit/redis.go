package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// incrementScript performs the fixed-window step server-side so that every
// instance sharing the Redis database sees one consistent counter per key.
//
// KEYS[1]  counter hash
// ARGV[1]  max requests
// ARGV[2]  window (ms)
// ARGV[3]  now (unix ms)
//
// Returns {count, reset_at_ms, allowed}.
var incrementScript = redis.NewScript(`
local vals = redis.call('HMGET', KEYS[1], 'count', 'reset_at')
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local count = tonumber(vals[1])
local reset = tonumber(vals[2])
if count == nil or reset == nil or now >= reset then
  count = 0
  reset = now + window
  redis.call('HSET', KEYS[1], 'count', 0, 'reset_at', reset)
  redis.call('PEXPIREAT', KEYS[1], reset)
end
if count >= max then
  return {count, reset, 0}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {count, reset, 1}
`)

// RedisConfig holds connection settings for NewRedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
}

// RedisStore shares counters between instances through Redis. Keys carry a
// PEXPIREAT at their reset instant, so Redis itself discards stale windows.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), "count", "reset_at").Result()
	if err != nil {
		return Entry{}, false, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Entry{}, false, nil
	}
	count, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return Entry{}, false, fmt.Errorf("parse count: %w", err)
	}
	resetMs, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("parse reset_at: %w", err)
	}
	return Entry{Count: count, ResetAt: time.UnixMilli(resetMs)}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry) error {
	k := s.key(key)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, "count", e.Count, "reset_at", e.ResetAt.UnixMilli())
	pipe.PExpireAt(ctx, k, e.ResetAt)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Sweep is a no-op: expired windows are removed by Redis key expiry.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, cfg Config, now time.Time) (Entry, bool, error) {
	res, err := incrementScript.Run(ctx, s.client,
		[]string{s.key(key)},
		cfg.MaxRequests, cfg.Window.Milliseconds(), now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Entry{}, false, err
	}
	if len(res) != 3 {
		return Entry{}, false, errors.New("unexpected rate limit script reply")
	}
	return Entry{Count: int(res[0]), ResetAt: time.UnixMilli(res[1])}, res[2] == 1, nil
}
