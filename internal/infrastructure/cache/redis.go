package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/example/marketplace-orders/internal/domain/cart"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL    = 15 * time.Minute
	DefaultJitter = 5 * time.Minute
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	jitter time.Duration
}

// NewRedisCache stores carts for ttl plus up to jitter so that entries
// written together do not expire together. Zero values pick the defaults.
func NewRedisCache(client *redis.Client, ttl, jitter time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if jitter < 0 {
		jitter = 0
	}
	return &RedisCache{client: client, ttl: ttl, jitter: jitter}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var c cart.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &c, nil
}

func (r *RedisCache) Set(ctx context.Context, userID string, c *cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := r.ttl
	if r.jitter > 0 {
		ttl += rand.N(r.jitter)
	}
	if err := r.client.Set(ctx, cacheKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}
