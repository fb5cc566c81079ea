package order

import "context"

// Repository persists orders. Update applies only when the stored version
// matches order.Version and must return ErrConflict otherwise, so concurrent
// transitions on the same order serialize; implementations bump the version
// on success.
type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, order *Order) error
}
