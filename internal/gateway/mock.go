package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Gateway represents the external interbank settlement network.
type Gateway interface {
	// SendSettlement pushes funds held in the clearing account to an external destination.
	// Returns a gateway reference ID and an error if the settlement failed.
	SendSettlement(ctx context.Context, destination string, amount int64, currency string) (string, error)
}

// MockGateway simulates the settlement network. It waits between MinDelay and MaxDelay
// and fails with probability FailureRate.
type MockGateway struct {
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// NewMockGateway creates a MockGateway with a 2-5s delay and a 10% failure rate.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate: 0.1,
		MinDelay:    2 * time.Second,
		MaxDelay:    5 * time.Second,
	}
}

func (g *MockGateway) delay() time.Duration {
	if g.MaxDelay <= g.MinDelay {
		return g.MinDelay
	}
	return g.MinDelay + time.Duration(rand.Int63n(int64(g.MaxDelay-g.MinDelay)))
}

func (g *MockGateway) SendSettlement(ctx context.Context, destination string, amount int64, currency string) (string, error) {
	if d := g.delay(); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", fmt.Errorf("gateway call canceled: %w", ctx.Err())
		}
	} else if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("gateway call canceled: %w", err)
	}

	if rand.Float64() < g.FailureRate {
		return "", fmt.Errorf("gateway temporarily unavailable")
	}

	// Format: MOCK-YYYYMMDD-HHMMSS-XXXXX
	ref := fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))
	return ref, nil
}
