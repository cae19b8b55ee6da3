package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/device-delivery-service/config"
	"github.com/webitel/device-delivery-service/internal/domain/presence"
	"github.com/webitel/device-delivery-service/internal/domain/queue"
	"github.com/webitel/device-delivery-service/internal/store"
	"github.com/webitel/device-delivery-service/internal/transport"
)

var Module = fx.Module("service",
	fx.Provide(
		func(cfg *config.Config) RetryPolicy {
			return RetryPolicy{Attempts: cfg.Login.Attempts, Delay: cfg.Login.Delay}
		},

		NewSessionFactory,

		func(
			devices store.DeviceStore,
			reg *presence.Registry,
			q *queue.Queue,
			cache *queue.ConfigCache,
			carrier transport.Carrier,
			cfg *config.Config,
			logger *slog.Logger,
		) *DispatchService {
			return NewDispatchService(devices, reg, q, cache, carrier, cfg.Queue.MaxRetries, logger)
		},
		func(d *DispatchService) Dispatcher { return d },

		func(devices store.DeviceStore, cfg *config.Config) (*DeviceInfoService, error) {
			return NewDeviceInfoService(devices, cfg.Cache.DeviceKeys)
		},
		func(s *DeviceInfoService) Resolver { return s },
	),

	// Cross-cutting observability stays out of the lookup logic.
	fx.Decorate(func(orig Resolver, logger *slog.Logger) Resolver {
		return newResolverMiddleware(orig, logger)
	}),

	fx.Invoke(func(lc fx.Lifecycle, d *DispatchService) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				d.Stop()
				return nil
			},
		})
	}),
)
