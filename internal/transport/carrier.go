// Package transport is the delivery boundary: the queue in front of it
// buffers work, the Carrier behind it pushes items to live device sessions
// and reports the outcome.
package transport

import (
	"context"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

// Carrier accepts dispatch of one pending item to its target device.
// Implementations report synchronous handoff failure only; end-to-end
// acknowledgment (reverse requests in particular) travels back through the
// device's own channel.
type Carrier interface {
	Deliver(ctx context.Context, item *model.Item) error
}

// CarrierFunc adapts a function to the Carrier interface.
type CarrierFunc func(ctx context.Context, item *model.Item) error

func (f CarrierFunc) Deliver(ctx context.Context, item *model.Item) error {
	return f(ctx, item)
}
