package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/webitel/device-delivery-service/internal/domain/model"
	"github.com/webitel/device-delivery-service/internal/domain/presence"
	"github.com/webitel/device-delivery-service/internal/domain/queue"
	"github.com/webitel/device-delivery-service/internal/store"
	"github.com/webitel/device-delivery-service/internal/transport"
)

// EnvDeviceID is the env key carrying the target device for the queue_*
// facade operations.
const EnvDeviceID = "device_id"

// Dispatcher is the facade surface for server-to-device work: it resolves
// each request against the device registry and the presence registry, then
// either hands the item to the carrier or parks it in the delivery queue.
type Dispatcher interface {
	Notify(ctx context.Context, sess *Session, method string, elements []any, env map[string]string, dev model.DeviceID) error
	QueueNotification(ctx context.Context, sess *Session, module, method string, elements []any, env map[string]string) error
	QueueReverseRequest(ctx context.Context, sess *Session, module, method string, elements []any, env map[string]string) error
	CheckQueue(ctx context.Context, sess *Session, dir model.Direction, dev model.DeviceID) ([]*model.Item, error)
	PushConfig(ctx context.Context, sess *Session, configSet, reference string, dev model.DeviceID, tree *model.ConfigTree) error
	GetCachedConfig(ctx context.Context, sess *Session, configSet, reference string, dev model.DeviceID) (*model.ConfigTree, error)
}

type pairRef struct {
	acct model.AccountID
	dev  model.DeviceID
}

// DispatchService coordinates presence, queue and carrier. Apart from the
// two shared structures it owns no mutable state, so concurrent callers for
// distinct devices never serialize on it.
type DispatchService struct {
	devices  store.DeviceStore
	presence *presence.Registry
	queue    *queue.Queue
	cache    *queue.ConfigCache
	carrier  transport.Carrier
	logger   *slog.Logger

	// maxRetries bounds how often one item is re-queued after failed
	// carrier handoffs before it is dropped.
	maxRetries int

	// watches tracks (account, device) pairs with an in-flight presence
	// watch, so enqueueing many items for one offline device arms one
	// flusher, not one per item.
	watches sync.Map // pairRef -> struct{}

	stopOnce sync.Once
	done     chan struct{}
}

var _ Dispatcher = (*DispatchService)(nil)

func NewDispatchService(
	devices store.DeviceStore,
	reg *presence.Registry,
	q *queue.Queue,
	cache *queue.ConfigCache,
	carrier transport.Carrier,
	maxRetries int,
	logger *slog.Logger,
) *DispatchService {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &DispatchService{
		devices:    devices,
		presence:   reg,
		queue:      q,
		cache:      cache,
		carrier:    carrier,
		logger:     logger,
		maxRetries: maxRetries,
		done:       make(chan struct{}),
	}
}

// Stop cancels all armed presence flushers.
func (d *DispatchService) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

// Notify delivers a notification to a provisioned device, or fails with
// ErrUnknownDevice when the account has no such device. Presence decides
// the path: present devices get an immediate carrier handoff, absent ones
// get the item queued until they connect, indefinitely if need be;
// expiry belongs to the transport's own policy, not this layer.
func (d *DispatchService) Notify(ctx context.Context, sess *Session, method string, elements []any, env map[string]string, dev model.DeviceID) error {
	acct, err := sess.Account()
	if err != nil {
		return err
	}
	if !d.devices.Exists(acct, dev) {
		return model.ErrUnknownDevice
	}

	item := model.NewItem(acct, dev, model.KindNotify, model.ToDevice, method, elements, env)
	d.submit(ctx, item)
	return nil
}

// QueueNotification builds a notify-tagged item for the device implied by
// env/module and submits it through the same presence-gated path. Unlike
// Notify it does not pre-check provisioning; the item simply waits.
func (d *DispatchService) QueueNotification(ctx context.Context, sess *Session, module, method string, elements []any, env map[string]string) error {
	return d.queueTagged(ctx, sess, model.KindNotify, module, method, elements, env)
}

// QueueReverseRequest is QueueNotification with the reverse_request tag
// preserved on the item, so the transport applies acknowledgment semantics
// instead of fire-and-forget.
func (d *DispatchService) QueueReverseRequest(ctx context.Context, sess *Session, module, method string, elements []any, env map[string]string) error {
	return d.queueTagged(ctx, sess, model.KindReverseRequest, module, method, elements, env)
}

func (d *DispatchService) queueTagged(ctx context.Context, sess *Session, kind model.ItemKind, module, method string, elements []any, env map[string]string) error {
	acct, err := sess.Account()
	if err != nil {
		return err
	}

	dev := model.DeviceID(env[EnvDeviceID])
	if dev == "" {
		dev = model.DeviceID(module)
	}

	// The caller keeps ownership of its env map; annotate a copy.
	tagged := make(map[string]string, len(env)+1)
	for k, v := range env {
		tagged[k] = v
	}
	tagged["module"] = module

	item := model.NewItem(acct, dev, kind, model.ToDevice, method, elements, tagged)
	d.submit(ctx, item)
	return nil
}

// CheckQueue atomically drains all pending items for the session's account
// and the given device/direction, in submission order. Called by the
// device-connection handler on connect (to_device) and by the server to
// flush device-originated backlog (from_device).
func (d *DispatchService) CheckQueue(_ context.Context, sess *Session, dir model.Direction, dev model.DeviceID) ([]*model.Item, error) {
	acct, err := sess.Account()
	if err != nil {
		return nil, err
	}
	return d.queue.Drain(acct, dev, dir), nil
}

// PushConfig caches the tree under (account, set, reference, device) and
// enqueues a config_push item carrying only the reference; the device
// fetches the tree via GetCachedConfig when it processes the item.
func (d *DispatchService) PushConfig(ctx context.Context, sess *Session, configSet, reference string, dev model.DeviceID, tree *model.ConfigTree) error {
	acct, err := sess.Account()
	if err != nil {
		return err
	}
	if !d.devices.Exists(acct, dev) {
		return model.ErrUnknownDevice
	}

	d.cache.Put(acct, configSet, reference, dev, tree)

	item := model.NewItem(acct, dev, model.KindConfigPush, model.ToDevice, "config_push",
		nil, map[string]string{"config_set": configSet, "reference": reference})
	item.ConfigRef = reference
	d.submit(ctx, item)
	return nil
}

// GetCachedConfig is a pure read against the config cache; evicted or
// unknown references yield ErrNotFound.
func (d *DispatchService) GetCachedConfig(_ context.Context, sess *Session, configSet, reference string, dev model.DeviceID) (*model.ConfigTree, error) {
	acct, err := sess.Account()
	if err != nil {
		return nil, err
	}
	return d.cache.Get(acct, configSet, reference, dev)
}

// Ingest submits an already account-scoped item on behalf of a remote
// producer (the AMQP pipeline). Unknown devices are rejected the same way
// Notify rejects them.
func (d *DispatchService) Ingest(ctx context.Context, acct model.AccountID, dev model.DeviceID, kind model.ItemKind, method string, elements []any, env map[string]string) error {
	if !d.devices.Exists(acct, dev) {
		return model.ErrUnknownDevice
	}
	d.submit(ctx, model.NewItem(acct, dev, kind, model.ToDevice, method, elements, env))
	return nil
}

// submit routes one item: immediate carrier handoff when the device is
// present, queue plus an armed presence flusher when it is not.
func (d *DispatchService) submit(ctx context.Context, item *model.Item) {
	if d.presence.Exists(item.AccountID, item.DeviceID) {
		if err := d.carrier.Deliver(ctx, item); err != nil {
			d.requeue(item, err)
		}
		return
	}

	d.queue.Push(item)
	d.armFlusher(item.AccountID, item.DeviceID)
}

// requeue puts a failed item back, bumping its retry count, until the
// budget is spent. Re-queued items go to the tail: the retry policy
// explicitly supersedes strict FIFO for failed deliveries.
func (d *DispatchService) requeue(item *model.Item, cause error) {
	item.Retries++
	if item.Retries > d.maxRetries {
		d.logger.Error("dispatch: item dropped, retries exhausted",
			slog.String("item_id", item.ID.String()),
			slog.String("kind", item.Kind.String()),
			slog.String("device_id", string(item.DeviceID)),
			slog.Any("err", cause),
		)
		return
	}

	d.queue.Push(item)
	d.armFlusher(item.AccountID, item.DeviceID)
}

// armFlusher starts (at most) one goroutine per pair that waits for the
// device to come online and then flushes its to_device backlog. The drain
// is exactly-once, so racing with a connection handler's CheckQueue is
// safe: whoever drains first owns the batch.
func (d *DispatchService) armFlusher(acct model.AccountID, dev model.DeviceID) {
	ref := pairRef{acct, dev}
	if _, loaded := d.watches.LoadOrStore(ref, struct{}{}); loaded {
		return
	}

	online, cancel := d.presence.Watch(acct, dev)
	go func() {
		select {
		case <-d.done:
			cancel()
			d.watches.Delete(ref)
		case <-online:
			// Retire this watch before flushing: a failed handoff inside
			// flush re-arms via requeue, and that re-arm must not be
			// swallowed by our own still-registered entry.
			cancel()
			d.watches.Delete(ref)
			d.flush(context.Background(), acct, dev)
		}
	}()
}

// flush hands the queued to_device backlog to the carrier in order. On the
// first failure the current item is re-queued with its retry count bumped,
// the untouched remainder is pushed back behind it, and the flusher is
// re-armed.
func (d *DispatchService) flush(ctx context.Context, acct model.AccountID, dev model.DeviceID) {
	items := d.queue.Drain(acct, dev, model.ToDevice)
	for i, item := range items {
		if err := d.carrier.Deliver(ctx, item); err != nil {
			d.requeue(item, err)
			for _, rest := range items[i+1:] {
				d.queue.Push(rest)
			}
			d.armFlusher(acct, dev)
			return
		}
	}
}
