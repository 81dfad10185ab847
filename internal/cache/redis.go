package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis implements Cache on a single Redis instance.
//
// Values are stored as JSON. Scan-based pattern deletion is used instead of
// KEYS so invalidation does not block the server on large keyspaces.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedis connects and verifies the connection with a ping.
func NewRedis(ctx context.Context, addr string, log zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, log: log}, nil
}

func (r *Redis) Close() { _ = r.client.Close() }

// Get implements Cache. Any failure is a miss.
func (r *Redis) Get(ctx context.Context, key string, dest any) bool {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("cache payload corrupt, treating as miss")
		r.Del(ctx, key)
		return false
	}
	return true
}

// Set implements Cache. Failures are logged and swallowed.
func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("cache set skipped, value not serializable")
		return
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Del implements Cache.
func (r *Redis) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.Warn().Err(err).Strs("keys", keys).Msg("cache delete failed")
	}
}

// DelByPattern implements Cache using SCAN + DEL batches.
func (r *Redis) DelByPattern(ctx context.Context, pattern string) int {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			r.log.Warn().Err(err).Str("pattern", pattern).Msg("cache scan failed")
			return removed
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				r.log.Warn().Err(err).Str("pattern", pattern).Msg("cache pattern delete failed")
				return removed
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed
		}
	}
}
