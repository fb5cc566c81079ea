package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/vendkit/vendcore/internal/domain/cart"
)

type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]*domain.Cart)}
}

func (r *CartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cart.Clone(), nil
}

func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	_ = ctx
	if cart == nil || cart.UserID == "" {
		return fmt.Errorf("cart repository: user id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.carts[cart.UserID] = cart.Clone()
	return nil
}

func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.carts, userID)
	return nil
}
