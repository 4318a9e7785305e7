package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the Redis-backed response cache. Each resource type owns a
// set of the cache keys whose responses included records of that type, so
// invalidation is one set read plus one multi-delete.
type RedisCache struct {
	client *redis.Client
	config Config
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, config Config) *RedisCache {
	if config.DefaultTTL == 0 {
		config = DefaultConfig()
	}
	return &RedisCache{client: client, config: config}
}

func (r *RedisCache) bodyKey(key string) string {
	return r.config.Prefix + "resp:" + key
}

func (r *RedisCache) typeKey(typeName string) string {
	return r.config.Prefix + "type:" + typeName
}

// Get returns the cached body for a key, or a miss.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, err := r.client.Get(ctx, r.bodyKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return body, true, nil
}

// Set stores a body and registers its key against every type the response
// included, so a write to any of them invalidates it.
func (r *RedisCache) Set(ctx context.Context, key string, types []string, body []byte) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.bodyKey(key), body, r.config.DefaultTTL)
	for _, t := range types {
		pipe.SAdd(ctx, r.typeKey(t), r.bodyKey(key))
		pipe.Expire(ctx, r.typeKey(t), r.config.DefaultTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Invalidate drops every cached response registered against the type.
func (r *RedisCache) Invalidate(ctx context.Context, typeName string) error {
	keys, err := r.client.SMembers(ctx, r.typeKey(typeName)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, r.typeKey(typeName)).Err()
}

// Close closes the underlying client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
