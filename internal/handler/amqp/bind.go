package amqp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

type payloadHandler[T any] func(ctx context.Context, payload *T) error

// bind adapts a typed listener to a Watermill handler. Malformed payloads
// are terminal: they are logged and acked, never retried.
func bind[T any](logger *slog.Logger, fn payloadHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			logger.Error("amqp: malformed payload",
				slog.String("msg_id", msg.UUID),
				slog.Any("err", err),
			)
			return nil
		}
		return fn(msg.Context(), payload)
	}
}
