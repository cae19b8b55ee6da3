package amqp

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

func loggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(next message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			out, err := next(msg)
			if err != nil {
				logger.Error("amqp: handler failed",
					slog.String("msg_id", msg.UUID),
					slog.Duration("took", time.Since(start)),
					slog.Any("err", err),
				)
				return out, err
			}
			logger.Debug("amqp: handled",
				slog.String("msg_id", msg.UUID),
				slog.Duration("took", time.Since(start)),
			)
			return out, nil
		}
	}
}
