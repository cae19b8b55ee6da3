package transport

import (
	"context"

	"go.uber.org/fx"

	"github.com/webitel/device-delivery-service/config"
)

var Module = fx.Module("transport",
	fx.Provide(
		func(cfg *config.Config) *Hub {
			return NewHub(cfg.Queue.MailboxSize, cfg.Queue.SendTimeout)
		},
		// The dispatcher talks to the hub through the circuit breaker.
		func(h *Hub) Carrier { return NewBreaker("device-hub", h) },
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Hub) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown()
				return nil
			},
		})
	}),
)
