package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/graphmind-ai/graphmind/common"
)

const redisKeyPrefix = "graphmind:cache:"

// RedisBackend stores cache entries in Redis so multiple processes share one
// cache. Redis failures degrade to cache misses; the cache is best-effort.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBackend{client: client}, nil
}

// NewRedisBackendFromClient wraps an existing client (used in tests).
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			common.Logger.WithError(err).Warn("redis cache get failed")
		}
		return nil, false
	}
	return data, true
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		common.Logger.WithError(err).Warn("redis cache set failed")
	}
}

func (r *RedisBackend) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		common.Logger.WithError(err).Warn("redis cache delete failed")
	}
}

// Close closes the underlying client.
func (r *RedisBackend) Close() error { return r.client.Close() }
