package cmd

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/device-delivery-service/config"
	httpsrv "github.com/webitel/device-delivery-service/infra/server/http"
	"github.com/webitel/device-delivery-service/internal/adapter/pubsub"
	"github.com/webitel/device-delivery-service/internal/domain/presence"
	"github.com/webitel/device-delivery-service/internal/domain/queue"
	amqphandler "github.com/webitel/device-delivery-service/internal/handler/amqp"
	"github.com/webitel/device-delivery-service/internal/service"
	"github.com/webitel/device-delivery-service/internal/store"
	"github.com/webitel/device-delivery-service/internal/transport"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),
		store.Module,
		pubsub.Module,
		presence.Module,
		queue.Module,
		transport.Module,
		service.Module,
		httpsrv.Module,
		amqphandler.Module,
		fx.Invoke(watchConfig),
	)
}

// watchConfig keeps an eye on the config file. Most settings are read once
// at startup, so a change only announces itself.
func watchConfig(cfg *config.Config, logger *slog.Logger) {
	cfg.Watch(logger, func(_ *config.Config) {
		logger.Info("config: file changed, restart to apply")
	})
}
