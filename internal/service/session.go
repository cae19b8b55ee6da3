package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/webitel/device-delivery-service/internal/adapter/pubsub"
	"github.com/webitel/device-delivery-service/internal/domain/model"
	"github.com/webitel/device-delivery-service/internal/store"
)

// Session is the explicit per-caller identity context. Every facade
// operation takes one by reference; there is no ambient or goroutine-local
// identity anywhere. A session is either unauthenticated (no account,
// optionally watching "add" lifecycle events) or authenticated (account,
// user, trusted, optionally watching "delete" events), never both; the
// subscription swap between the two states is exclusive.
type Session struct {
	accounts store.AccountStore
	bus      *pubsub.Bus
	retry    RetryPolicy
	logger   *slog.Logger

	mu      sync.Mutex
	acct    model.AccountID
	user    string
	trusted bool
	current *pubsub.Subscription

	events chan model.AccountEvent
}

// SessionFactory mints sessions bound to the process-wide collaborators.
type SessionFactory struct {
	accounts store.AccountStore
	bus      *pubsub.Bus
	retry    RetryPolicy
	logger   *slog.Logger
}

func NewSessionFactory(accounts store.AccountStore, bus *pubsub.Bus, retry RetryPolicy, logger *slog.Logger) *SessionFactory {
	return &SessionFactory{accounts: accounts, bus: bus, retry: retry, logger: logger}
}

// NewSession returns a fresh unauthenticated session.
func (f *SessionFactory) NewSession() *Session {
	return &Session{
		accounts: f.accounts,
		bus:      f.bus,
		retry:    f.retry,
		logger:   f.logger,
		events:   make(chan model.AccountEvent, 16),
	}
}

// WatchAccountCreation subscribes the (still unauthenticated) session to
// "add" lifecycle events, implementing "wait for my account to appear"
// without polling. The subscription is dropped again by a later Login.
func (s *Session) WatchAccountCreation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swapLocked(ctx, model.AccountAdded)
}

// Login resolves the account (canonical ID accepted directly, a human name
// goes through lookup), then authorizes user within it. Unresolvable
// accounts fail fast: lookup is deterministic, so there is nothing to
// retry. Authorization failures are retried per the policy, since the
// backend cannot distinguish rejection from transient unavailability.
// On success the context becomes trusted and, if subscribe is set, its
// "add" subscription is swapped for a "delete" one; unsubscribing a
// missing subscription is tolerated silently, and the new subscribe is
// attempted exactly once per login.
func (s *Session) Login(ctx context.Context, account, user string, subscribe bool) bool {
	id, ok := s.resolve(account)
	if !ok {
		s.logger.Warn("login: account not resolvable", slog.String("account", account))
		return false
	}

	if !s.retry.Do(func() bool { return s.accounts.SetAuthAsUser(ctx, id, user) }) {
		s.logger.Warn("login: retries exhausted",
			slog.String("account_id", string(id)),
			slog.String("user", user),
			slog.Any("err", model.ErrAuthRejected),
		)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.acct = id
	s.user = user
	s.trusted = true

	if subscribe {
		if err := s.swapLocked(ctx, model.AccountDeleted); err != nil {
			// Auth already succeeded; a broken lifecycle bus downgrades
			// the session to unwatched rather than failing the login.
			s.logger.Error("login: lifecycle subscription failed", slog.Any("err", err))
		}
	}
	return true
}

// Logout clears the authentication state and drops the "delete"
// subscription; with resubscribe it goes back to watching for account
// creation. Always succeeds from the caller's point of view.
func (s *Session) Logout(ctx context.Context, resubscribe bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acct = ""
	s.user = ""
	s.trusted = false

	if resubscribe {
		if err := s.swapLocked(ctx, model.AccountAdded); err != nil {
			s.logger.Error("logout: resubscribe failed", slog.Any("err", err))
		}
		return
	}
	s.current.Cancel()
	s.current = nil
}

// Account returns the authenticated account, or ErrNotAuthenticated before
// the first successful login (and after logout).
func (s *Session) Account() (model.AccountID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.trusted {
		return "", model.ErrNotAuthenticated
	}
	return s.acct, nil
}

// User returns the acting user within the account, empty when logged out.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Events is the stable delivery channel for lifecycle events across all
// subscription swaps of this session.
func (s *Session) Events() <-chan model.AccountEvent {
	return s.events
}

// Close drops any live subscription. The events channel stays open; no
// further events will arrive on it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Cancel()
	s.current = nil
}

func (s *Session) resolve(account string) (model.AccountID, bool) {
	if id := model.AccountID(account); s.accounts.Exists(id) {
		return id, true
	}
	return s.accounts.LookupByName(account)
}

// swapLocked replaces the current lifecycle subscription with one of the
// given kind. Cancel on a nil or dead subscription is a silent no-op, which
// makes the swap idempotent on the unsubscribe side; the subscribe side
// runs exactly once: double subscription to one kind cannot happen because
// the previous subscription is always canceled first.
func (s *Session) swapLocked(ctx context.Context, kind model.AccountEventKind) error {
	s.current.Cancel()
	s.current = nil

	sub, err := s.bus.Subscribe(ctx, kind, s.acct)
	if err != nil {
		return err
	}
	s.current = sub

	go func() {
		for ev := range sub.C {
			select {
			case s.events <- ev:
			default:
				s.logger.Warn("session: lifecycle event dropped, consumer lagging",
					slog.String("kind", string(ev.Kind)))
			}
		}
	}()
	return nil
}
