package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

// resolverMiddleware decorates a Resolver with timing and outcome logging,
// keeping observability out of the lookup logic itself. Wired through
// fx.Decorate in the service module.
type resolverMiddleware struct {
	next   Resolver
	logger *slog.Logger
}

var _ Resolver = (*resolverMiddleware)(nil)

func newResolverMiddleware(next Resolver, logger *slog.Logger) Resolver {
	return &resolverMiddleware{next: next, logger: logger}
}

func (m *resolverMiddleware) LookupPosition(ctx context.Context, sess *Session, dev model.DeviceID) (model.Position, error) {
	start := time.Now()
	pos, err := m.next.LookupPosition(ctx, sess, dev)
	m.observe("lookup_position", dev, start, err)
	return pos, err
}

func (m *resolverMiddleware) LookupKeys(ctx context.Context, sess *Session, dev model.DeviceID) (model.DeviceKeys, error) {
	start := time.Now()
	keys, err := m.next.LookupKeys(ctx, sess, dev)
	m.observe("lookup_keys", dev, start, err)
	return keys, err
}

func (m *resolverMiddleware) LookupAttr(ctx context.Context, sess *Session, dev model.DeviceID, name string) ([]model.Attribute, error) {
	start := time.Now()
	attrs, err := m.next.LookupAttr(ctx, sess, dev, name)
	m.observe("lookup_attr", dev, start, err)
	return attrs, err
}

func (m *resolverMiddleware) Snapshot(ctx context.Context, sess *Session, dev model.DeviceID) (DeviceSnapshot, error) {
	start := time.Now()
	snap, err := m.next.Snapshot(ctx, sess, dev)
	m.observe("snapshot", dev, start, err)
	return snap, err
}

func (m *resolverMiddleware) observe(op string, dev model.DeviceID, start time.Time, err error) {
	if err != nil {
		m.logger.Warn("device info: lookup failed",
			slog.String("op", op),
			slog.String("device_id", string(dev)),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.Any("err", err),
		)
		return
	}
	m.logger.Debug("device info: lookup done",
		slog.String("op", op),
		slog.String("device_id", string(dev)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}
