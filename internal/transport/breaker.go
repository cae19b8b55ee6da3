package transport

import (
	"context"

	"github.com/sony/gobreaker"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

// Breaker shields the dispatcher from a flapping carrier. While the circuit
// is open every Deliver fails fast, which sends the item back to the queue
// instead of hammering a transport that is already down.
type Breaker struct {
	next Carrier
	cb   *gobreaker.CircuitBreaker
}

var _ Carrier = (*Breaker)(nil)

func NewBreaker(name string, next Carrier) *Breaker {
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: name,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// A device that is simply offline is the normal queue
				// path, not a carrier fault.
				return err == nil || err == model.ErrNotConnected
			},
		}),
	}
}

func (b *Breaker) Deliver(ctx context.Context, item *model.Item) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Deliver(ctx, item)
	})
	return err
}
