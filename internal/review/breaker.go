package review

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerBackend trips after repeated backend failures so a failing model
// endpoint is not hammered by every reviewer task in a batch.
type BreakerBackend struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker
}

// NewBreaker wraps b in a circuit breaker.
func NewBreaker(name string, b Backend) *BreakerBackend {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	}
	return &BreakerBackend{backend: b, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Complete implements Backend.
func (b *BreakerBackend) Complete(ctx context.Context, system, user string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.backend.Complete(ctx, system, user)
	})
	if err != nil {
		return "", err
	}
	text, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("unexpected circuit breaker response type")
	}
	return text, nil
}

// State reports the breaker state.
func (b *BreakerBackend) State() gobreaker.State {
	return b.cb.State()
}
