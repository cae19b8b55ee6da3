// Package ws is the websocket device-connection handler: the consumer side
// of the delivery queue. A connecting device becomes present, receives its
// queued backlog, and stays attached until the socket dies. The presence
// lease guarantees registry cleanup however the connection ended.
package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/webitel/device-delivery-service/internal/domain/model"
	"github.com/webitel/device-delivery-service/internal/domain/presence"
	"github.com/webitel/device-delivery-service/internal/domain/queue"
	wsmarshaller "github.com/webitel/device-delivery-service/internal/handler/marshaller/ws"
	"github.com/webitel/device-delivery-service/internal/store"
	"github.com/webitel/device-delivery-service/internal/transport"
)

type Handler struct {
	logger   *slog.Logger
	devices  store.DeviceStore
	registry *presence.Registry
	hub      *transport.Hub
	queue    *queue.Queue
	upgrader websocket.Upgrader
}

func NewHandler(logger *slog.Logger, devices store.DeviceStore, registry *presence.Registry, hub *transport.Hub, q *queue.Queue) *Handler {
	return &Handler{
		logger:   logger,
		devices:  devices,
		registry: registry,
		hub:      hub,
		queue:    q,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Identity comes from the device gateway in front of us; here the
	// query parameters are trusted as-is.
	acct := model.AccountID(r.URL.Query().Get("account_id"))
	dev := model.DeviceID(r.URL.Query().Get("device_id"))
	proto := model.Protocol(r.URL.Query().Get("protocol"))
	if proto == "" {
		proto = "ws"
	}

	if acct == "" || dev == "" {
		http.Error(w, "account_id and device_id are required", http.StatusBadRequest)
		return
	}
	if !h.devices.Exists(acct, dev) {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	l := h.logger.With(
		slog.String("account_id", string(acct)),
		slog.String("device_id", string(dev)),
		slog.String("protocol", string(proto)),
	)

	sender := transport.NewChanSender(32)

	// Attach before announcing presence, so work flushed on the presence
	// signal lands in a mailbox that already has a live session.
	h.hub.Attach(acct, dev, sender)
	defer h.hub.Detach(acct, dev, sender.GetID())

	lease := h.registry.Track(acct, dev, proto)
	defer lease.Release()

	l.Info("ws: device connected", slog.String("conn_id", sender.GetID().String()))

	// Read pump: device-originated frames are buffered in the from_device
	// lane until plugin code drains them via the queue-check operation.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := wsmarshaller.UnmarshallInbound(data)
			if err != nil {
				l.Warn("ws: malformed inbound frame", slog.Any("err", err))
				continue
			}
			h.queue.Push(model.NewItem(acct, dev, model.KindNotify, model.FromDevice,
				frame.Method, frame.Elements, frame.Env))
		}
	}()

	// Write pump.
	for {
		select {
		case <-readDone:
			l.Info("ws: device disconnected")
			return
		case <-r.Context().Done():
			return
		case item := <-sender.C():
			data, err := wsmarshaller.MarshallItem(item)
			if err != nil {
				l.Error("ws: marshal failed", slog.String("item_id", item.ID.String()), slog.Any("err", err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.Warn("ws: send failed", slog.Any("err", err))
				return
			}
		}
	}
}
