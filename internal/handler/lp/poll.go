// Package lp is the long-poll fallback transport for devices that cannot
// hold a websocket open. Each poll is a short-lived presence window: the
// device is present for the duration of the request, collects whatever the
// flusher hands over, and goes absent again when the response is written.
package lp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/device-delivery-service/internal/domain/model"
	"github.com/webitel/device-delivery-service/internal/domain/presence"
	wsmarshaller "github.com/webitel/device-delivery-service/internal/handler/marshaller/ws"
	"github.com/webitel/device-delivery-service/internal/store"
	"github.com/webitel/device-delivery-service/internal/transport"
)

const (
	pollTimeout = 30 * time.Second
	maxBatch    = 16
)

type Handler struct {
	logger   *slog.Logger
	devices  store.DeviceStore
	registry *presence.Registry
	hub      *transport.Hub
}

func NewHandler(logger *slog.Logger, devices store.DeviceStore, registry *presence.Registry, hub *transport.Hub) *Handler {
	return &Handler{logger: logger, devices: devices, registry: registry, hub: hub}
}

// Poll blocks until at least one item is deliverable or the poll window
// closes. A batch response carries the first item plus anything else already
// buffered, so a backlog drains in a few round trips instead of one per item.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	acct := model.AccountID(r.URL.Query().Get("account_id"))
	dev := model.DeviceID(chi.URLParam(r, "deviceID"))

	if acct == "" || dev == "" {
		http.Error(w, "account_id and device id are required", http.StatusBadRequest)
		return
	}
	if !h.devices.Exists(acct, dev) {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}

	sender := transport.NewChanSender(maxBatch)

	// Same ordering contract as the websocket handler: the mailbox must be
	// live before presence fires the flusher.
	h.hub.Attach(acct, dev, sender)
	defer h.hub.Detach(acct, dev, sender.GetID())

	lease := h.registry.Track(acct, dev, "lp")
	defer lease.Release()

	timer := time.NewTimer(pollTimeout)
	defer timer.Stop()

	var items []*model.Item
	select {
	case <-r.Context().Done():
		return
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
		return
	case item := <-sender.C():
		items = append(items, item)
	}

	// First item arrived; sweep whatever else is already buffered.
collect:
	for len(items) < maxBatch {
		select {
		case item := <-sender.C():
			items = append(items, item)
		default:
			break collect
		}
	}

	body, err := wsmarshaller.MarshallBatch(items)
	if err != nil {
		h.logger.Error("lp: marshal failed",
			slog.String("device_id", string(dev)),
			slog.Any("err", err),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("lp: response write failed",
			slog.String("device_id", string(dev)),
			slog.Any("err", err),
		)
	}
}
