// Package amqp ingests delivery work published by remote producers over the
// message broker and feeds it into the dispatch pipeline. Transport-level
// retry, poison-queue and recovery policy all live in the router middleware
// chain; the listeners only translate payloads.
package amqp

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/webitel/device-delivery-service/internal/adapter/pubsub"
	"github.com/webitel/device-delivery-service/internal/service"
)

const (
	TopicNotifyV1         = "dm.notify.v1"
	TopicReverseRequestV1 = "dm.reverse_request.v1"

	// poisonTopic collects messages that exhausted the retry budget.
	poisonTopic = "dm.poison.v1"

	handlerTimeout = 10 * time.Second
)

type Handler struct {
	dispatch *service.DispatchService
	bus      *pubsub.Bus
	logger   *slog.Logger
	wmLogger watermill.LoggerAdapter
}

func NewHandler(dispatch *service.DispatchService, bus *pubsub.Bus, logger *slog.Logger, wmLogger watermill.LoggerAdapter) *Handler {
	return &Handler{dispatch: dispatch, bus: bus, logger: logger, wmLogger: wmLogger}
}

// Register wires the middleware chain and the topic listeners onto the
// router. Order matters: poison sits outside retry, so only messages whose
// retries are spent get parked.
func (h *Handler) Register(router *message.Router, sub message.Subscriber) error {
	poison, err := middleware.PoisonQueue(h.bus.Publisher(), poisonTopic)
	if err != nil {
		return err
	}

	retry := middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		Multiplier:      2,
		Logger:          h.wmLogger,
	}

	router.AddMiddleware(
		middleware.CorrelationID,
		loggingMiddleware(h.logger),
		poison,
		retry.Middleware,
		middleware.Recoverer,
		middleware.Timeout(handlerTimeout),
	)

	router.AddNoPublisherHandler("notify-v1", TopicNotifyV1, sub, bind(h.logger, h.OnNotifyV1))
	router.AddNoPublisherHandler("reverse-request-v1", TopicReverseRequestV1, sub, bind(h.logger, h.OnReverseRequestV1))
	return nil
}
