package transport

import (
	"time"

	"github.com/google/uuid"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

// ChanSender is the channel-backed Sender used by the HTTP-side handlers:
// the hub writes into the channel, the handler's write pump reads from it
// and puts frames on the wire.
type ChanSender struct {
	id uuid.UUID
	ch chan *model.Item
}

var _ Sender = (*ChanSender)(nil)

func NewChanSender(buffer int) *ChanSender {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanSender{id: uuid.New(), ch: make(chan *model.Item, buffer)}
}

func (s *ChanSender) GetID() uuid.UUID { return s.id }

// Send blocks up to timeout for buffer space, then reports failure; the
// cell treats a false as a dead or stalled session.
func (s *ChanSender) Send(item *model.Item, timeout time.Duration) bool {
	select {
	case s.ch <- item:
		return true
	case <-time.After(timeout):
		return false
	}
}

// C is the read side for the owning handler's write pump.
func (s *ChanSender) C() <-chan *model.Item { return s.ch }
