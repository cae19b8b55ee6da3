package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

func TestDeliverNotConnected(t *testing.T) {
	h := NewHub(8, 100*time.Millisecond)
	defer h.Shutdown()

	item := model.NewItem("a", "d", model.KindNotify, model.ToDevice, "m", nil, nil)
	if err := h.Deliver(context.Background(), item); !errors.Is(err, model.ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestDeliverReachesAttachedSender(t *testing.T) {
	h := NewHub(8, 100*time.Millisecond)
	defer h.Shutdown()

	s := NewChanSender(8)
	h.Attach("a", "d", s)

	item := model.NewItem("a", "d", model.KindNotify, model.ToDevice, "m", nil, nil)
	if err := h.Deliver(context.Background(), item); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-s.C():
		if got.ID != item.ID {
			t.Fatalf("received item %s, want %s", got.ID, item.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("item never reached the sender")
	}
}

func TestDetachLastSenderReclaimsCell(t *testing.T) {
	h := NewHub(8, 100*time.Millisecond)
	defer h.Shutdown()

	s := NewChanSender(8)
	h.Attach("a", "d", s)
	h.Detach("a", "d", s.GetID())

	item := model.NewItem("a", "d", model.KindNotify, model.ToDevice, "m", nil, nil)
	if err := h.Deliver(context.Background(), item); !errors.Is(err, model.ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected after detach", err)
	}
}

func TestCellIsolatesSlowDevice(t *testing.T) {
	h := NewHub(8, 50*time.Millisecond)
	defer h.Shutdown()

	// Unbuffered, never read: every send into it times out.
	stalled := &ChanSender{id: uuid.New(), ch: make(chan *model.Item)}
	h.Attach("a", "slow", stalled)

	healthy := NewChanSender(8)
	h.Attach("a", "fast", healthy)

	slowItem := model.NewItem("a", "slow", model.KindNotify, model.ToDevice, "m", nil, nil)
	fastItem := model.NewItem("a", "fast", model.KindNotify, model.ToDevice, "m", nil, nil)

	if err := h.Deliver(context.Background(), slowItem); err != nil {
		t.Fatal(err)
	}
	if err := h.Deliver(context.Background(), fastItem); err != nil {
		t.Fatal(err)
	}

	select {
	case <-healthy.C():
	case <-time.After(time.Second):
		t.Fatal("stalled device blocked delivery to a healthy one")
	}
}
