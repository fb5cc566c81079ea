package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/vendkit/vendcore/internal/domain/payment"
)

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[string]*domain.Payment)}
}

func (r *PaymentRepository) Insert(ctx context.Context, payment *domain.Payment) error {
	_ = ctx
	if payment == nil || payment.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[payment.ID]; exists {
		return domain.ErrConflict
	}
	r.payments[payment.ID] = payment.Clone()
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return payment.Clone(), nil
}

// Update applies the optimistic version check that serializes concurrent
// attempt increments and duplicate gateway callbacks.
func (r *PaymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	_ = ctx
	if payment == nil || payment.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.payments[payment.ID]
	if !exists {
		return domain.ErrNotFound
	}
	if stored.Version != payment.Version {
		return domain.ErrConflict
	}

	clone := payment.Clone()
	clone.Version++
	r.payments[payment.ID] = clone
	payment.Version = clone.Version
	return nil
}

func (r *PaymentRepository) GetOriginalByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.payments {
		if p.OrderID == orderID && p.Type == domain.TypePayment {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *PaymentRepository) ListRefundsByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var refunds []*domain.Payment
	for _, p := range r.payments {
		if p.OrderID == orderID && p.Type != domain.TypePayment {
			refunds = append(refunds, p.Clone())
		}
	}
	sort.Slice(refunds, func(i, j int) bool {
		return refunds[i].InitiatedAt.Before(refunds[j].InitiatedAt)
	})
	return refunds, nil
}

func (r *PaymentRepository) ListExpiredPending(ctx context.Context, limit int) ([]*domain.Payment, error) {
	_ = ctx
	now := time.Now().UTC()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []*domain.Payment
	for _, p := range r.payments {
		if p.Status == domain.StatusPending && p.IsExpired(now) {
			expired = append(expired, p.Clone())
			if limit > 0 && len(expired) >= limit {
				break
			}
		}
	}
	return expired, nil
}
