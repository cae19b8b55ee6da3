// Package http hosts the device-facing HTTP surface: the websocket stream,
// the long-poll fallback and the health probe.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/device-delivery-service/config"
	"github.com/webitel/device-delivery-service/internal/handler/lp"
	"github.com/webitel/device-delivery-service/internal/handler/ws"
)

type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func NewServer(cfg *config.Config, logger *slog.Logger, wsh *ws.Handler, lph *lp.Handler) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/stream", wsh.ServeHTTP)
	r.Get("/v1/poll/{deviceID}", lph.Poll)

	return &Server{
		srv: &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Start() {
	s.logger.Info("http: listening", slog.String("address", s.srv.Addr))
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http: server stopped", slog.Any("err", err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
