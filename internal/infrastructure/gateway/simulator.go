package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultSuccessRate = 0.7

// Simulator stands in for the real payment-gateway adapter. Initiate hands
// back a transaction id immediately; Outcome simulates the asynchronous
// gateway decision for demo and test drivers.
type Simulator struct {
	mu          sync.Mutex
	random      *rand.Rand
	successRate float64
}

func NewSimulator() *Simulator {
	return &Simulator{
		random:      rand.New(rand.NewSource(time.Now().UnixNano())),
		successRate: defaultSuccessRate,
	}
}

func (s *Simulator) Initiate(ctx context.Context, amount int64, method string) (string, error) {
	_ = amount
	_ = method

	// respect cancellation even though this is mocked
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	return "SIM-" + uuid.NewString(), nil
}

// Outcome reports whether the simulated gateway approves the transaction.
func (s *Simulator) Outcome() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.random.Float64() <= s.successRate
}

// SetSuccessRate adjusts the approval rate, primarily for tests.
func (s *Simulator) SetSuccessRate(rate float64) {
	s.mu.Lock()
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	s.successRate = rate
	s.mu.Unlock()
}
