package queue

import (
	"go.uber.org/fx"

	"github.com/webitel/device-delivery-service/config"
)

var Module = fx.Module("queue",
	fx.Provide(
		func(cfg *config.Config) *Queue {
			return New(cfg.Queue.Capacity)
		},
		func(cfg *config.Config) (*ConfigCache, error) {
			return NewConfigCache(cfg.Cache.ConfigTrees)
		},
	),
)
