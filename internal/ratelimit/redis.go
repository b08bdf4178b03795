package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript adds to the counter and arms the window expiry exactly once,
// on the increment that created the key. The TTL check covers counters that
// lost their expiry (for example after a Redis restore).
const incrementScript = `
local current = redis.call('INCRBY', KEYS[1], ARGV[1])
if current == tonumber(ARGV[1]) then
    redis.call('EXPIRE', KEYS[1], ARGV[2])
elseif redis.call('TTL', KEYS[1]) == -1 then
    redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return current
`

// RedisStore implements Store on a shared Redis instance using a Lua script
// for atomic increment-with-expiry.
type RedisStore struct {
	client redis.UniversalClient
	script *redis.Script
}

// NewRedisStore creates a Redis-backed bucket store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(incrementScript),
	}
}

// Increment atomically adds amount and arms the window TTL on first use.
func (s *RedisStore) Increment(ctx context.Context, key string, amount int64, window time.Duration) (int64, error) {
	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return s.script.Run(ctx, s.client, []string{key}, amount, seconds).Int64()
}

// Get returns the current count and remaining window TTL.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, err
	}

	used, err := getCmd.Int64()
	if err == redis.Nil {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return used, ttl, nil
}

// Delete clears the bucket.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
