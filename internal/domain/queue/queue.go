/*
Package queue buffers pending delivery items per (account, device,
direction) until the device-connection handler drains them.

The to_device and from_device backlogs for a pair are disjoint sub-queues,
so server->device pushes and device->server flushes cannot starve each
other. Each sub-queue has its own lock: enqueues and drains for unrelated
devices never contend.
*/
package queue

import (
	"sync"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

type laneKey struct {
	acct model.AccountID
	dev  model.DeviceID
	dir  model.Direction
}

// lane is one FIFO sub-queue. Lanes are created lazily and kept for the
// lifetime of the process; the population is bounded by the provisioned
// device count, which keeps the map small enough not to bother reclaiming.
type lane struct {
	mu    sync.Mutex
	items []*model.Item
}

// Queue is the shared pending-delivery structure. The zero capacity means
// unbounded lanes; a positive capacity sheds the oldest item when a lane is
// full rather than blocking the producer.
type Queue struct {
	lanes    sync.Map // laneKey -> *lane
	capacity int
}

func New(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

func (q *Queue) lane(k laneKey) *lane {
	if v, ok := q.lanes.Load(k); ok {
		return v.(*lane)
	}
	v, _ := q.lanes.LoadOrStore(k, &lane{})
	return v.(*lane)
}

// Push appends the item to its lane in submission order.
func (q *Queue) Push(item *model.Item) {
	l := q.lane(laneKey{item.AccountID, item.DeviceID, item.Direction})

	l.mu.Lock()
	defer l.mu.Unlock()

	if q.capacity > 0 && len(l.items) >= q.capacity {
		// Shed the oldest entry instead of blocking the producer.
		l.items = l.items[1:]
	}
	l.items = append(l.items, item)
}

// Drain atomically removes and returns all pending items for the pair and
// direction, in FIFO submission order. A push racing a drain lands fully in
// the returned batch or fully after it; no item is ever handed to two
// concurrent drainers.
func (q *Queue) Drain(acct model.AccountID, dev model.DeviceID, dir model.Direction) []*model.Item {
	v, ok := q.lanes.Load(laneKey{acct, dev, dir})
	if !ok {
		return nil
	}
	l := v.(*lane)

	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.items
	l.items = nil
	return items
}

// Len reports the current depth of one lane.
func (q *Queue) Len(acct model.AccountID, dev model.DeviceID, dir model.Direction) int {
	v, ok := q.lanes.Load(laneKey{acct, dev, dir})
	if !ok {
		return 0
	}
	l := v.(*lane)

	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
