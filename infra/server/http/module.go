package http

import (
	"context"

	"go.uber.org/fx"

	"github.com/webitel/device-delivery-service/internal/handler/lp"
	"github.com/webitel/device-delivery-service/internal/handler/ws"
)

var Module = fx.Module("http-server",
	fx.Provide(
		ws.NewHandler,
		lp.NewHandler,
		NewServer,
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.Stop(ctx)
			},
		})
	}),
)
