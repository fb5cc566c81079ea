package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	domain "github.com/vendkit/vendcore/internal/domain/cart"
	"github.com/redis/go-redis/v9"
)

type CartCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

// NewCartCache caches hot carts with a jittered TTL well under the cart's
// own 24h expiry, so a stale cache entry can never outlive its document.
func NewCartCache(client *redis.Client) *CartCache {
	return &CartCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

func (c *CartCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

func (c *CartCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	// jitter spreads expiry to avoid synchronized refill
	ttl := c.baseTTL + time.Duration(rand.IntN(5))*time.Minute
	if err := c.client.Set(ctx, cacheKey(userID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *CartCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return "cart:" + userID
}

var _ domain.Cache = (*CartCache)(nil)
