package payment

import "context"

// Repository persists payments, refund documents included. Update applies
// only when the stored version matches payment.Version and returns
// ErrConflict otherwise; implementations bump the version on success.
type Repository interface {
	Insert(ctx context.Context, payment *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, payment *Payment) error

	// GetOriginalByOrder returns the type=payment document for an order.
	GetOriginalByOrder(ctx context.Context, orderID string) (*Payment, error)
	// ListRefundsByOrder returns the refund/partial_refund documents linked
	// to an order, oldest first.
	ListRefundsByOrder(ctx context.Context, orderID string) ([]*Payment, error)
	// ListExpiredPending returns pending payments whose expiry has passed;
	// only the optional sweeper reads it.
	ListExpiredPending(ctx context.Context, limit int) ([]*Payment, error)
}
