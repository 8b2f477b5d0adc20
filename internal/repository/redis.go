package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ddalti:"

// RedisCache stores enrichment results and seen-sets in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ domain.KVCache = (*RedisCache)(nil)

// NewRedisClient builds a client from config without connecting.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	if r.client == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, keyPrefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

// MarkSeen adds key to the named set and reports whether it was new.
func (r *RedisCache) MarkSeen(ctx context.Context, set, key string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	added, err := r.client.SAdd(ctx, keyPrefix+"set:"+set, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add to set %s: %w", set, err)
	}
	return added == 1, nil
}

func (r *RedisCache) Forget(ctx context.Context, set, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.SRem(ctx, keyPrefix+"set:"+set, key).Err(); err != nil {
		return fmt.Errorf("failed to remove from set %s: %w", set, err)
	}
	return nil
}

func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
