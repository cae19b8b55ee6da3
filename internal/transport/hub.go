package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

// Sender is one live transport channel to a device (a websocket session,
// a CWMP connection, ...). Send must be safe for concurrent use and must
// not block past the given timeout.
type Sender interface {
	GetID() uuid.UUID
	Send(item *model.Item, timeout time.Duration) bool
}

type pairKey struct {
	acct model.AccountID
	dev  model.DeviceID
}

// Hub is the in-process Carrier: a registry of per-device delivery cells.
// Each connected device gets an isolated cell with its own mailbox and
// delivery goroutine, so one stalled device cannot hold up delivery to any
// other and at most one item per device is in flight at a time.
type Hub struct {
	cells       sync.Map // pairKey -> *cell
	mailboxSize int
	sendTimeout time.Duration
}

var _ Carrier = (*Hub)(nil)

func NewHub(mailboxSize int, sendTimeout time.Duration) *Hub {
	if mailboxSize <= 0 {
		mailboxSize = 64
	}
	if sendTimeout <= 0 {
		sendTimeout = 500 * time.Millisecond
	}
	return &Hub{mailboxSize: mailboxSize, sendTimeout: sendTimeout}
}

// Attach binds a live sender to the device's cell, creating the cell on
// first attach.
func (h *Hub) Attach(acct model.AccountID, dev model.DeviceID, s Sender) {
	k := pairKey{acct, dev}
	v, _ := h.cells.LoadOrStore(k, newCell(h.mailboxSize, h.sendTimeout))
	v.(*cell).attach(s)
}

// Detach unbinds the sender; the cell is reclaimed once its last sender is
// gone.
func (h *Hub) Detach(acct model.AccountID, dev model.DeviceID, connID uuid.UUID) {
	k := pairKey{acct, dev}
	if v, ok := h.cells.Load(k); ok {
		if v.(*cell).detach(connID) {
			v.(*cell).stop()
			h.cells.Delete(k)
		}
	}
}

// Deliver hands the item to the device's cell. ErrNotConnected when the
// device has no live sender here; ErrNotConnected on mailbox overflow too,
// since either way the item belongs back in the queue.
func (h *Hub) Deliver(_ context.Context, item *model.Item) error {
	v, ok := h.cells.Load(pairKey{item.AccountID, item.DeviceID})
	if !ok {
		return model.ErrNotConnected
	}
	if !v.(*cell).push(item) {
		return model.ErrNotConnected
	}
	return nil
}

// Shutdown stops every cell's delivery goroutine.
func (h *Hub) Shutdown() {
	h.cells.Range(func(k, v any) bool {
		v.(*cell).stop()
		h.cells.Delete(k)
		return true
	})
}

// cell serializes delivery to one device. The mailbox decouples the
// dispatcher from slow device links; the loop drains it one item at a time.
type cell struct {
	mailbox     chan *model.Item
	sendTimeout time.Duration

	mu      sync.RWMutex
	senders map[uuid.UUID]Sender

	stopOnce sync.Once
	done     chan struct{}
}

func newCell(mailboxSize int, sendTimeout time.Duration) *cell {
	c := &cell{
		mailbox:     make(chan *model.Item, mailboxSize),
		sendTimeout: sendTimeout,
		senders:     make(map[uuid.UUID]Sender),
		done:        make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *cell) attach(s Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders[s.GetID()] = s
}

// detach reports true when no senders remain.
func (c *cell) detach(connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.senders, connID)
	return len(c.senders) == 0
}

func (c *cell) push(item *model.Item) bool {
	select {
	case c.mailbox <- item:
		return true
	default:
		return false
	}
}

func (c *cell) loop() {
	for {
		select {
		case <-c.done:
			return
		case item := <-c.mailbox:
			c.fanout(item)
		}
	}
}

func (c *cell) fanout(item *model.Item) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.senders {
		s.Send(item, c.sendTimeout)
	}
}

func (c *cell) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
