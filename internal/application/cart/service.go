package cart

import (
	"context"
	"errors"
	"time"

	domain "github.com/vendkit/vendcore/internal/domain/cart"
	"github.com/vendkit/vendcore/internal/observability"
	"github.com/vendkit/vendcore/internal/observability/logctx"
	"golang.org/x/sync/singleflight"
)

const cartService = "cart-service"

// Service owns the pending-selection workflow: reads go through the cache
// with stampede protection, writes mutate the aggregate and invalidate.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	sfg   singleflight.Group
	log   observability.Logger
}

func NewService(repo domain.Repository, cache domain.Cache, tel observability.Observability) *Service {
	baseLog := observability.NopLogger()
	if tel != nil {
		baseLog = tel.Logger()
	}
	return &Service{
		repo:  repo,
		cache: cache,
		log:   baseLog.With(observability.F("service", cartService)),
	}
}

// Get returns the user's active cart, or a fresh empty one when none exists.
// Concurrent cache misses for the same user collapse into one repository read.
func (s *Service) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		logger := logctx.FromOr(ctx, s.log).With(observability.F("user_id", userID))

		if s.cache != nil {
			cached, cacheErr := s.cache.Get(ctx, userID)
			if cacheErr == nil {
				return cached, nil
			}
			if !errors.Is(cacheErr, domain.ErrCacheMiss) {
				logger.Warn("cart_cache_get_failed", observability.F("error", cacheErr.Error()))
			}
		}

		stored, repoErr := s.repo.Get(ctx, userID)
		if errors.Is(repoErr, domain.ErrNotFound) {
			return domain.New(userID), nil
		}
		if repoErr != nil {
			return nil, repoErr
		}

		if s.cache != nil {
			if setErr := s.cache.Set(ctx, userID, stored); setErr != nil {
				logger.Warn("cart_cache_set_failed", observability.F("error", setErr.Error()))
			}
		}
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	// Every waiter on the flight shares one result; hand out a detached copy
	// so concurrent callers never mutate the same aggregate.
	return v.(*domain.Cart).Clone(), nil
}

// AddItem merges the line into the cart (creating the cart on first add) and
// persists. Duplicate (product, machine, slot) keys increment quantity.
func (s *Service) AddItem(ctx context.Context, userID string, line domain.Line) (*domain.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := cart.AddLine(line); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, cart); err != nil {
		return nil, err
	}
	s.invalidate(userID)
	return cart, nil
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID, machineID, slotID string, quantity int) (*domain.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := cart.UpdateLineQuantity(productID, machineID, slotID, quantity); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, cart); err != nil {
		return nil, err
	}
	s.invalidate(userID)
	return cart, nil
}

// RemoveItem deletes the matching line; absent lines are a no-op. The cart
// is persisted either way.
func (s *Service) RemoveItem(ctx context.Context, userID, productID, machineID, slotID string) (*domain.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	cart.RemoveLine(productID, machineID, slotID)
	if err := s.repo.Save(ctx, cart); err != nil {
		return nil, err
	}
	s.invalidate(userID)
	return cart, nil
}

// Clear empties the cart and persists the zeroed aggregates.
func (s *Service) Clear(ctx context.Context, userID string) error {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	cart.Clear()
	if err := s.repo.Save(ctx, cart); err != nil {
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *Service) invalidate(userID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cart_cache_invalidate_failed",
			observability.F("user_id", userID),
			observability.F("error", err.Error()),
		)
	}
}
