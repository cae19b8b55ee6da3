package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/device-delivery-service/internal/adapter/pubsub"
	"github.com/webitel/device-delivery-service/internal/domain/model"
	"github.com/webitel/device-delivery-service/internal/domain/presence"
	"github.com/webitel/device-delivery-service/internal/domain/queue"
	"github.com/webitel/device-delivery-service/internal/store"
)

// recordingCarrier hands every delivered item to a channel; an optional
// fail function decides per call whether the handoff errors.
type recordingCarrier struct {
	delivered chan *model.Item
	fail      func(call int) error

	callMu sync.Mutex
	calls  int
}

func newRecordingCarrier() *recordingCarrier {
	return &recordingCarrier{delivered: make(chan *model.Item, 64)}
}

func (c *recordingCarrier) Deliver(_ context.Context, item *model.Item) error {
	c.callMu.Lock()
	c.calls++
	call := c.calls
	c.callMu.Unlock()

	if c.fail != nil {
		if err := c.fail(call); err != nil {
			return err
		}
	}
	c.delivered <- item
	return nil
}

type dispatchFixture struct {
	devices  *store.MemoryDevices
	registry *presence.Registry
	queue    *queue.Queue
	cache    *queue.ConfigCache
	carrier  *recordingCarrier
	svc      *DispatchService
	sess     *Session
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cache, err := queue.NewConfigCache(64)
	require.NoError(t, err)

	f := &dispatchFixture{
		devices:  store.NewMemoryDevices(),
		registry: presence.NewRegistry(),
		queue:    queue.New(0),
		cache:    cache,
		carrier:  newRecordingCarrier(),
	}
	f.svc = NewDispatchService(f.devices, f.registry, f.queue, f.cache, f.carrier, 3, logger)
	t.Cleanup(f.svc.Stop)

	accounts := store.NewMemoryAccounts()
	accounts.AddAccount("acct-1", "", "admin")
	bus := pubsub.NewGoChannelBus(watermill.NopLogger{}, logger)
	factory := NewSessionFactory(accounts, bus, RetryPolicy{Attempts: 1, Sleep: func(time.Duration) {}}, logger)

	f.sess = factory.NewSession()
	require.True(t, f.sess.Login(context.Background(), "acct-1", "admin", false))
	t.Cleanup(f.sess.Close)

	f.devices.AddDevice("acct-1", "dev-1", nil, nil)
	return f
}

func expectDelivered(t *testing.T, c *recordingCarrier) *model.Item {
	t.Helper()
	select {
	case item := <-c.delivered:
		return item
	case <-time.After(time.Second):
		t.Fatal("no delivery within timeout")
		return nil
	}
}

func TestNotifyUnknownDevice(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.svc.Notify(context.Background(), f.sess, "reboot", nil, nil, "ghost")
	assert.True(t, errors.Is(err, model.ErrUnknownDevice))
}

func TestNotifyRequiresLogin(t *testing.T) {
	f := newDispatchFixture(t)
	f.sess.Logout(context.Background(), false)

	err := f.svc.Notify(context.Background(), f.sess, "reboot", nil, nil, "dev-1")
	assert.True(t, errors.Is(err, model.ErrNotAuthenticated))
}

func TestNotifyPresentDeviceDeliversImmediately(t *testing.T) {
	f := newDispatchFixture(t)
	f.registry.Add("acct-1", "dev-1", "ws")

	require.NoError(t, f.svc.Notify(context.Background(), f.sess, "reboot", []any{"now"}, nil, "dev-1"))

	item := expectDelivered(t, f.carrier)
	assert.Equal(t, "reboot", item.Method)
	assert.Equal(t, model.KindNotify, item.Kind)
	assert.Zero(t, f.queue.Len("acct-1", "dev-1", model.ToDevice))
}

func TestNotifyAbsentDeviceQueues(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.svc.Notify(context.Background(), f.sess, "reboot", nil, nil, "dev-1"))

	assert.Equal(t, 1, f.queue.Len("acct-1", "dev-1", model.ToDevice))
	select {
	case <-f.carrier.delivered:
		t.Fatal("absent device must not get an immediate delivery")
	default:
	}
}

func TestQueuedItemsFlushOnPresence(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Notify(ctx, f.sess, "first", nil, nil, "dev-1"))
	require.NoError(t, f.svc.Notify(ctx, f.sess, "second", nil, nil, "dev-1"))

	f.registry.Add("acct-1", "dev-1", "ws")

	assert.Equal(t, "first", expectDelivered(t, f.carrier).Method)
	assert.Equal(t, "second", expectDelivered(t, f.carrier).Method)
}

func TestQueueNotificationTargetsEnvDevice(t *testing.T) {
	f := newDispatchFixture(t)

	env := map[string]string{EnvDeviceID: "dev-1"}
	require.NoError(t, f.svc.QueueNotification(context.Background(), f.sess, "telemetry", "upload", nil, env))

	items, err := f.svc.CheckQueue(context.Background(), f.sess, model.ToDevice, "dev-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "upload", items[0].Method)
	assert.Equal(t, "telemetry", items[0].Env["module"])
}

func TestQueueNotificationFallsBackToModuleTarget(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.svc.QueueNotification(context.Background(), f.sess, "telemetry", "upload", nil, nil))

	items, err := f.svc.CheckQueue(context.Background(), f.sess, model.ToDevice, "telemetry")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestQueueReverseRequestKeepsKind(t *testing.T) {
	f := newDispatchFixture(t)

	env := map[string]string{EnvDeviceID: "dev-1"}
	require.NoError(t, f.svc.QueueReverseRequest(context.Background(), f.sess, "fw", "read_state", nil, env))

	items, err := f.svc.CheckQueue(context.Background(), f.sess, model.ToDevice, "dev-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.KindReverseRequest, items[0].Kind)
}

func TestCheckQueueDrainsFIFOAndEmpties(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	env := map[string]string{EnvDeviceID: "dev-1"}

	require.NoError(t, f.svc.QueueNotification(ctx, f.sess, "m", "first", nil, env))
	require.NoError(t, f.svc.QueueNotification(ctx, f.sess, "m", "second", nil, map[string]string{EnvDeviceID: "dev-1"}))

	items, err := f.svc.CheckQueue(ctx, f.sess, model.ToDevice, "dev-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Method)
	assert.Equal(t, "second", items[1].Method)

	again, err := f.svc.CheckQueue(ctx, f.sess, model.ToDevice, "dev-1")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPushConfigCachesAndQueuesReference(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	tree := &model.ConfigTree{Name: "wifi", Children: []*model.ConfigTree{{Name: "ssid", Value: "lab"}}}
	require.NoError(t, f.svc.PushConfig(ctx, f.sess, "radio", "rev-42", "dev-1", tree))

	got, err := f.svc.GetCachedConfig(ctx, f.sess, "radio", "rev-42", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, tree, got)

	items, err := f.svc.CheckQueue(ctx, f.sess, model.ToDevice, "dev-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.KindConfigPush, items[0].Kind)
	assert.Equal(t, "rev-42", items[0].ConfigRef)
}

func TestPushConfigUnknownDevice(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.svc.PushConfig(context.Background(), f.sess, "radio", "rev-1", "ghost", &model.ConfigTree{})
	assert.True(t, errors.Is(err, model.ErrUnknownDevice))
}

func TestGetCachedConfigMiss(t *testing.T) {
	f := newDispatchFixture(t)

	_, err := f.svc.GetCachedConfig(context.Background(), f.sess, "radio", "never-pushed", "dev-1")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestIngestUnknownDevice(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.svc.Ingest(context.Background(), "acct-1", "ghost", model.KindNotify, "m", nil, nil)
	assert.True(t, errors.Is(err, model.ErrUnknownDevice))
}

func TestFlushFailureReArmsAndRetries(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	// First handoff fails, every later one succeeds.
	f.carrier.fail = func(call int) error {
		if call == 1 {
			return errors.New("link reset")
		}
		return nil
	}

	// Device offline: the item queues and a flusher arms.
	require.NoError(t, f.svc.Notify(ctx, f.sess, "reboot", nil, nil, "dev-1"))
	require.Equal(t, 1, f.queue.Len("acct-1", "dev-1", model.ToDevice))

	// Coming online fires the flush. Its handoff fails, and the re-queued
	// item must come back around while the device stays present; the
	// failed flush must not leave a stale watch that swallows the re-arm.
	f.registry.Add("acct-1", "dev-1", "ws")

	item := expectDelivered(t, f.carrier)
	assert.Equal(t, "reboot", item.Method)
	assert.Equal(t, 1, item.Retries)
	assert.Zero(t, f.queue.Len("acct-1", "dev-1", model.ToDevice))
}

func TestQueueNotificationDoesNotMutateCallerEnv(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	env := map[string]string{EnvDeviceID: "dev-1"}
	require.NoError(t, f.svc.QueueNotification(ctx, f.sess, "telemetry", "upload", nil, env))

	// The caller's map stays untouched; the tag lands on the item's copy.
	assert.Equal(t, map[string]string{EnvDeviceID: "dev-1"}, env)

	items, err := f.svc.CheckQueue(ctx, f.sess, model.ToDevice, "dev-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "telemetry", items[0].Env["module"])
	assert.Equal(t, "dev-1", items[0].Env[EnvDeviceID])
}

func TestConcurrentNotifyDistinctDevices(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	const devices, perDevice = 8, 25
	for i := 0; i < devices; i++ {
		f.devices.AddDevice("acct-1", model.DeviceID(fmt.Sprintf("dev-%d", i)), nil, nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		dev := model.DeviceID(fmt.Sprintf("dev-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perDevice; j++ {
				require.NoError(t, f.svc.Notify(ctx, f.sess, "ping", nil, nil, dev))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < devices; i++ {
		dev := model.DeviceID(fmt.Sprintf("dev-%d", i))
		assert.Equal(t, perDevice, f.queue.Len("acct-1", dev, model.ToDevice))
	}
}

func TestFailedHandoffRequeuesWithRetryCount(t *testing.T) {
	f := newDispatchFixture(t)
	f.registry.Add("acct-1", "dev-1", "ws")

	// First handoff fails, every later one succeeds; the item must come
	// back around with its retry count bumped.
	f.carrier.fail = func(call int) error {
		if call == 1 {
			return errors.New("link reset")
		}
		return nil
	}

	require.NoError(t, f.svc.Notify(context.Background(), f.sess, "reboot", nil, nil, "dev-1"))

	item := expectDelivered(t, f.carrier)
	assert.Equal(t, "reboot", item.Method)
	assert.Equal(t, 1, item.Retries)
}
