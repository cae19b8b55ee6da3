package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/device-delivery-service/internal/adapter/pubsub"
	"github.com/webitel/device-delivery-service/internal/domain/model"
	"github.com/webitel/device-delivery-service/internal/store"
)

type sessionFixture struct {
	accounts *store.MemoryAccounts
	bus      *pubsub.Bus
	factory  *SessionFactory

	// slept records every delay the retry policy would have waited.
	slept []time.Duration
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &sessionFixture{
		accounts: store.NewMemoryAccounts(),
		bus:      pubsub.NewGoChannelBus(watermill.NopLogger{}, logger),
	}
	retry := RetryPolicy{
		Attempts: 3,
		Delay:    500 * time.Millisecond,
		Sleep:    func(d time.Duration) { f.slept = append(f.slept, d) },
	}
	f.factory = NewSessionFactory(f.accounts, f.bus, retry, logger)
	return f
}

func waitEvent(t *testing.T, s *Session) model.AccountEvent {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no lifecycle event received")
		return model.AccountEvent{}
	}
}

func TestLoginUnknownAccountFailsFast(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.factory.NewSession()
	defer sess.Close()

	ok := sess.Login(context.Background(), "nobody", "admin", false)

	assert.False(t, ok)
	// Resolution is deterministic; no retry, no sleep.
	assert.Empty(t, f.slept)
}

func TestLoginRetriesTransientRejection(t *testing.T) {
	f := newSessionFixture(t)
	f.accounts.AddAccount("acct-1", "tenant one", "admin")
	// Two forced rejections, then the normal membership check succeeds.
	f.accounts.ScriptAuth("acct-1", false, false)

	sess := f.factory.NewSession()
	defer sess.Close()

	ok := sess.Login(context.Background(), "acct-1", "admin", false)

	require.True(t, ok)
	require.Len(t, f.slept, 2)
	for _, d := range f.slept {
		assert.Equal(t, 500*time.Millisecond, d)
	}

	acct, err := sess.Account()
	require.NoError(t, err)
	assert.Equal(t, model.AccountID("acct-1"), acct)
	assert.Equal(t, "admin", sess.User())
}

func TestLoginRetriesExhausted(t *testing.T) {
	f := newSessionFixture(t)
	f.accounts.AddAccount("acct-1", "tenant one", "admin")
	f.accounts.ScriptAuth("acct-1", false, false, false)

	sess := f.factory.NewSession()
	defer sess.Close()

	ok := sess.Login(context.Background(), "acct-1", "admin", false)

	assert.False(t, ok)
	// Three attempts means two inter-attempt delays.
	assert.Len(t, f.slept, 2)

	_, err := sess.Account()
	assert.True(t, errors.Is(err, model.ErrNotAuthenticated))
}

func TestLoginResolvesByName(t *testing.T) {
	f := newSessionFixture(t)
	f.accounts.AddAccount("acct-1", "tenant one", "admin")

	sess := f.factory.NewSession()
	defer sess.Close()

	require.True(t, sess.Login(context.Background(), "tenant one", "admin", false))

	acct, err := sess.Account()
	require.NoError(t, err)
	assert.Equal(t, model.AccountID("acct-1"), acct)
}

func TestAccountBeforeLogin(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.factory.NewSession()
	defer sess.Close()

	_, err := sess.Account()
	assert.True(t, errors.Is(err, model.ErrNotAuthenticated))
}

func TestLogoutClearsIdentity(t *testing.T) {
	f := newSessionFixture(t)
	f.accounts.AddAccount("acct-1", "", "admin")

	sess := f.factory.NewSession()
	defer sess.Close()

	require.True(t, sess.Login(context.Background(), "acct-1", "admin", false))
	sess.Logout(context.Background(), false)

	_, err := sess.Account()
	assert.True(t, errors.Is(err, model.ErrNotAuthenticated))
	assert.Empty(t, sess.User())
}

func TestWatchAccountCreation(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	sess := f.factory.NewSession()
	defer sess.Close()

	require.NoError(t, sess.WatchAccountCreation(ctx))

	require.NoError(t, f.bus.Publish(ctx, model.AccountEvent{Kind: model.AccountAdded, AccountID: "acct-1"}))

	ev := waitEvent(t, sess)
	assert.Equal(t, model.AccountAdded, ev.Kind)
	assert.Equal(t, model.AccountID("acct-1"), ev.AccountID)
}

func TestLoginSwapsSubscriptionToDeletion(t *testing.T) {
	f := newSessionFixture(t)
	f.accounts.AddAccount("acct-1", "", "admin")
	ctx := context.Background()

	sess := f.factory.NewSession()
	defer sess.Close()

	require.NoError(t, sess.WatchAccountCreation(ctx))
	require.True(t, sess.Login(ctx, "acct-1", "admin", true))

	// The "add" subscription is gone; only deletions of this account arrive.
	require.NoError(t, f.bus.Publish(ctx, model.AccountEvent{Kind: model.AccountAdded, AccountID: "acct-1"}))
	require.NoError(t, f.bus.Publish(ctx, model.AccountEvent{Kind: model.AccountDeleted, AccountID: "acct-2"}))
	require.NoError(t, f.bus.Publish(ctx, model.AccountEvent{Kind: model.AccountDeleted, AccountID: "acct-1"}))

	ev := waitEvent(t, sess)
	assert.Equal(t, model.AccountDeleted, ev.Kind)
	assert.Equal(t, model.AccountID("acct-1"), ev.AccountID)
}
