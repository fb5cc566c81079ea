package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/vendkit/vendcore/internal/domain/order"
)

type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

// Update applies the optimistic version check: the write lands only when the
// stored version still matches, and bumps it by one.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.orders[order.ID]
	if !exists {
		return domain.ErrNotFound
	}
	if stored.Version != order.Version {
		return domain.ErrConflict
	}

	clone := order.Clone()
	clone.Version++
	r.orders[order.ID] = clone
	order.Version = clone.Version
	return nil
}
