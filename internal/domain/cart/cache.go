package cart

import (
	"context"
	"errors"
)

// ErrCacheMiss signals the cart is not cached; callers fall back to the
// repository.
var ErrCacheMiss = errors.New("cart: cache miss")

// Cache is the read-through cache port in front of the cart repository.
type Cache interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Set(ctx context.Context, userID string, cart *Cart) error
	Delete(ctx context.Context, userID string) error
}
