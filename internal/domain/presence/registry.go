/*
Package presence tracks which devices currently hold a live session, keyed
by (account, device, protocol).

Key properties:
  - Registration and removal are idempotent and always succeed; removal of a
    session that was never registered is not an error path.
  - Existence checks are protocol-independent and linearizable with respect
    to concurrent mutation: a reader observes the state either definitively
    before or definitively after a racing add/remove, never in between.
  - Entries never expire on their own. Cleanup on abnormal connection
    termination is the owning handler's job, via the Lease handle.
*/
package presence

import (
	"sync"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

type sessionKey struct {
	acct  model.AccountID
	dev   model.DeviceID
	proto model.Protocol
}

type pairKey struct {
	acct model.AccountID
	dev  model.DeviceID
}

// Registry is the concurrent in-memory presence map. It is consulted on
// every inbound notification request and on every device connect and
// disconnect, so it never touches the persistent device store.
type Registry struct {
	mu sync.RWMutex

	// sessions is the authoritative per-protocol liveness set.
	sessions map[sessionKey]struct{}

	// byPair counts live protocol sessions per (account, device) so that
	// Exists never has to scan.
	byPair map[pairKey]int

	// watchers holds one-shot channels closed when the pair first becomes
	// present. Used by the dispatcher to flush queued work on connect.
	watchers map[pairKey][]chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[sessionKey]struct{}),
		byPair:   make(map[pairKey]int),
		watchers: make(map[pairKey][]chan struct{}),
	}
}

// Add registers presence for the session key. Re-registering an already
// present session is a no-op success.
func (r *Registry) Add(acct model.AccountID, dev model.DeviceID, proto model.Protocol) {
	k := sessionKey{acct, dev, proto}
	p := pairKey{acct, dev}

	r.mu.Lock()
	if _, ok := r.sessions[k]; ok {
		r.mu.Unlock()
		return
	}
	r.sessions[k] = struct{}{}
	r.byPair[p]++

	var fired []chan struct{}
	if r.byPair[p] == 1 {
		fired = r.watchers[p]
		delete(r.watchers, p)
	}
	r.mu.Unlock()

	// Close outside the lock; each watch is one-shot.
	for _, ch := range fired {
		close(ch)
	}
}

// Remove drops presence for the session key. Removing a session that does
// not exist is a no-op success.
func (r *Registry) Remove(acct model.AccountID, dev model.DeviceID, proto model.Protocol) {
	k := sessionKey{acct, dev, proto}
	p := pairKey{acct, dev}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[k]; !ok {
		return
	}
	delete(r.sessions, k)
	if r.byPair[p]--; r.byPair[p] <= 0 {
		delete(r.byPair, p)
	}
}

// Exists reports whether the device holds at least one live session on any
// protocol.
func (r *Registry) Exists(acct model.AccountID, dev model.DeviceID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPair[pairKey{acct, dev}] > 0
}

// Watch returns a channel closed when the device first becomes present, and
// a cancel function the caller must invoke when it stops waiting. If the
// device is already present the channel is returned pre-closed.
func (r *Registry) Watch(acct model.AccountID, dev model.DeviceID) (<-chan struct{}, func()) {
	p := pairKey{acct, dev}
	ch := make(chan struct{})

	r.mu.Lock()
	if r.byPair[p] > 0 {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.watchers[p] = append(r.watchers[p], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		chs := r.watchers[p]
		for i, c := range chs {
			if c == ch {
				r.watchers[p] = append(chs[:i], chs[i+1:]...)
				break
			}
		}
		if len(r.watchers[p]) == 0 {
			delete(r.watchers, p)
		}
	}
	return ch, cancel
}

// Track registers presence and hands back a Lease tied to the owning
// connection. Transport handlers defer Release so that the registry
// reflects removal even when the connection terminates abnormally, without
// polling or TTLs.
func (r *Registry) Track(acct model.AccountID, dev model.DeviceID, proto model.Protocol) *Lease {
	r.Add(acct, dev, proto)
	return &Lease{registry: r, acct: acct, dev: dev, proto: proto}
}

// Lease is a supervised ownership handle over one presence entry.
type Lease struct {
	registry *Registry
	acct     model.AccountID
	dev      model.DeviceID
	proto    model.Protocol
	once     sync.Once
}

// Release removes the tracked entry. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.Remove(l.acct, l.dev, l.proto)
	})
}
