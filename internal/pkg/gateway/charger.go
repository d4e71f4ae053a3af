package gateway

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidSignature is returned for callbacks whose secure hash does not
// match the recomputed digest.
var ErrInvalidSignature = errors.New("gateway: callback signature verification failed")

// ChargeResult is the outcome contract for a token charge. Any real gateway
// integration must map its API response into this shape.
type ChargeResult struct {
	Success       bool
	TransactionID string
	Error         string
	// TokenInvalid marks permanent failures: the gateway rejected the stored
	// token itself, so retrying with the same method is pointless.
	TokenInvalid bool
}

// TokenCharger charges a previously stored gateway token without user
// interaction. The shipped implementation simulates outcomes; a production
// deployment swaps in the gateway's token-charge API behind the same
// contract.
type TokenCharger interface {
	Charge(ctx context.Context, token string, amount int64) ChargeResult
}

// SimulatedCharger approves a configurable fraction of charges and fails the
// rest. It honors context cancellation so charge timeouts behave like real
// network timeouts.
type SimulatedCharger struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
}

// NewSimulatedCharger returns a charger approving ~90% of attempts.
func NewSimulatedCharger() *SimulatedCharger {
	return &SimulatedCharger{
		rng:         rand.New(rand.NewSource(rand.Int63())),
		successRate: 0.9,
	}
}

// NewSimulatedChargerWithRate returns a charger with a fixed approval rate,
// useful for exercising failure paths deterministically (rate 0 or 1).
func NewSimulatedChargerWithRate(rate float64) *SimulatedCharger {
	c := NewSimulatedCharger()
	c.successRate = rate
	return c
}

func (c *SimulatedCharger) Charge(ctx context.Context, token string, amount int64) ChargeResult {
	select {
	case <-ctx.Done():
		return ChargeResult{Success: false, Error: "charge timed out: " + ctx.Err().Error()}
	default:
	}

	if token == "" {
		return ChargeResult{Success: false, Error: "missing payment token", TokenInvalid: true}
	}
	if amount <= 0 {
		return ChargeResult{Success: false, Error: "invalid charge amount"}
	}

	c.mu.Lock()
	approved := c.rng.Float64() < c.successRate
	c.mu.Unlock()

	if !approved {
		return ChargeResult{Success: false, Error: "card declined by issuer"}
	}
	return ChargeResult{Success: true, TransactionID: uuid.NewString()}
}
