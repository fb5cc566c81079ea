package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vendkit/vendcore/internal/domain/fault"
	dompayment "github.com/vendkit/vendcore/internal/domain/payment"
	"github.com/vendkit/vendcore/internal/observability"
)

const sweepBatchSize = 100

// Sweeper is the optional background loop flipping overdue PENDING payments
// to EXPIRED. The source of truth stays the lazy IsExpired check; deployments
// that want lazy-only semantics simply never start the sweeper.
type Sweeper struct {
	repo     dompayment.Repository
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	log        observability.Logger
	expCounter observability.Counter
}

func NewSweeper(repo dompayment.Repository, interval time.Duration, tel observability.Observability) *Sweeper {
	if tel == nil {
		tel = observability.Nop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		repo:       repo,
		interval:   interval,
		stop:       make(chan struct{}),
		log:        tel.Logger().With(observability.F("service", "payment-sweeper")),
		expCounter: tel.Metrics().Counter(observability.MPaymentsExpired),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("payment_sweeper_started", observability.F("interval", s.interval.String()))
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.repo.ListExpiredPending(ctx, sweepBatchSize)
	if err != nil {
		s.log.Warn("payment_sweep_list_failed", observability.F("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, p := range expired {
		if !p.Expire(now) {
			continue
		}
		err := s.repo.Update(ctx, p)
		switch {
		case err == nil:
			s.expCounter.Add(1)
			s.log.Info("payment_expired",
				observability.F("payment_id", p.ID),
				observability.F("order_id", p.OrderID),
			)
		case errors.Is(err, fault.ErrConflict):
			// lost the race to a live callback; the callback wins
		default:
			s.log.Warn("payment_expire_failed",
				observability.F("payment_id", p.ID),
				observability.F("error", err.Error()),
			)
		}
	}
}
