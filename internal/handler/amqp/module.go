package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/webitel/device-delivery-service/config"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(NewHandler),
	fx.Invoke(run),
)

// run starts the broker consumer when a broker is configured. Without an
// AMQP URL the process serves device transports only.
func run(lc fx.Lifecycle, cfg *config.Config, h *Handler, wmLogger watermill.LoggerAdapter, logger *slog.Logger) error {
	if cfg.AMQP.URL == "" {
		logger.Info("amqp: no broker configured, remote ingestion disabled")
		return nil
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return err
	}

	sub, err := wmamqp.NewSubscriber(
		wmamqp.NewDurablePubSubConfig(cfg.AMQP.URL,
			wmamqp.GenerateQueueNameTopicNameWithSuffix(".device-delivery")),
		wmLogger,
	)
	if err != nil {
		return err
	}

	if err := h.Register(router, sub); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("amqp: router stopped", slog.Any("err", err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
	return nil
}
