package pubsub

import "go.uber.org/fx"

var Module = fx.Module("lifecycle-bus",
	fx.Provide(NewGoChannelBus),
)
