package rediscache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/vendkit/vendcore/internal/domain/cart"
)

func setupCache(t *testing.T) (*CartCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCartCache(client), mr
}

func testCart(t *testing.T, userID string) *domain.Cart {
	t.Helper()
	c := domain.New(userID)
	require.NoError(t, c.AddLine(domain.Line{
		ProductID: "cola-330", MachineID: "VM-001", SlotID: "A1",
		Quantity: 2, UnitPrice: 250,
	}))
	return c
}

func TestGet_Hit(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	payload, err := json.Marshal(testCart(t, "user-1"))
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey("user-1"), string(payload)))

	got, err := cache.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, int64(500), got.TotalAmount)
	require.Len(t, got.Lines, 1)
}

func TestGet_Miss(t *testing.T) {
	cache, _ := setupCache(t)

	got, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	assert.Nil(t, got)
}

func TestGet_CorruptPayload(t *testing.T) {
	cache, mr := setupCache(t)
	require.NoError(t, mr.Set(cacheKey("user-1"), "{not json"))

	_, err := cache.Get(context.Background(), "user-1")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestSet_StoresWithJitteredTTL(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "user-1", testCart(t, "user-1")))

	stored, err := mr.Get(cacheKey("user-1"))
	require.NoError(t, err)

	var got domain.Cart
	require.NoError(t, json.Unmarshal([]byte(stored), &got))
	assert.Equal(t, 2, got.ItemCount)

	ttl := mr.TTL(cacheKey("user-1"))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.LessOrEqual(t, ttl, 20*time.Minute)
}

func TestDelete(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(cacheKey("user-1"), "{}"))
	require.NoError(t, cache.Delete(ctx, "user-1"))
	assert.False(t, mr.Exists(cacheKey("user-1")))

	// deleting an absent key is not an error
	assert.NoError(t, cache.Delete(ctx, "user-1"))
}
