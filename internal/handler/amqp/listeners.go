package amqp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

func (h *Handler) OnNotifyV1(ctx context.Context, p *ItemV1) error {
	return h.ingest(ctx, p, model.KindNotify)
}

func (h *Handler) OnReverseRequestV1(ctx context.Context, p *ItemV1) error {
	return h.ingest(ctx, p, model.KindReverseRequest)
}

func (h *Handler) ingest(ctx context.Context, p *ItemV1, kind model.ItemKind) error {
	err := h.dispatch.Ingest(ctx,
		model.AccountID(p.AccountID),
		model.DeviceID(p.DeviceID),
		kind, p.Method, p.Elements, p.Env,
	)
	if errors.Is(err, model.ErrUnknownDevice) {
		// Terminal: retrying will not provision the device.
		h.logger.Warn("amqp: item for unknown device dropped",
			slog.String("account_id", p.AccountID),
			slog.String("device_id", p.DeviceID),
			slog.String("kind", kind.String()),
		)
		return nil
	}
	return err
}
