package store

import (
	"context"
	"sync"

	"github.com/webitel/device-delivery-service/internal/adapter/pubsub"
	"github.com/webitel/device-delivery-service/internal/domain/model"
)

// MemoryAccounts implements AccountStore behind RWMutex-guarded maps. It
// backs the default single-node wiring and the test suite; a real
// deployment swaps in a client for the persistent account database.
type MemoryAccounts struct {
	mu sync.RWMutex

	byID   map[model.AccountID]accountRecord
	byName map[string]model.AccountID

	// bus, when set, receives add/delete lifecycle events the way the
	// real backend's change feed would emit them.
	bus *pubsub.Bus

	// authScript, when non-empty for an account, pre-determines the
	// outcome of successive SetAuthAsUser calls. Lets tests simulate
	// transient backend rejection sequences.
	authScript map[model.AccountID][]bool
}

type accountRecord struct {
	name  string
	users map[string]struct{}
}

var _ AccountStore = (*MemoryAccounts)(nil)

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		byID:       make(map[model.AccountID]accountRecord),
		byName:     make(map[string]model.AccountID),
		authScript: make(map[model.AccountID][]bool),
	}
}

// PublishTo routes account lifecycle events onto the bus. Without it the
// store stays silent and sessions waiting on add/delete events never fire.
func (m *MemoryAccounts) PublishTo(bus *pubsub.Bus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus = bus
}

// AddAccount provisions an account with the given users allowed to
// authorize against it, and announces the addition on the lifecycle bus.
func (m *MemoryAccounts) AddAccount(id model.AccountID, name string, users ...string) {
	m.mu.Lock()
	rec := accountRecord{name: name, users: make(map[string]struct{}, len(users))}
	for _, u := range users {
		rec.users[u] = struct{}{}
	}
	m.byID[id] = rec
	if name != "" {
		m.byName[name] = id
	}
	bus := m.bus
	m.mu.Unlock()

	if bus != nil {
		_ = bus.Publish(context.Background(), model.AccountEvent{Kind: model.AccountAdded, AccountID: id})
	}
}

// RemoveAccount drops the account and its name mapping, announcing the
// deletion on the lifecycle bus.
func (m *MemoryAccounts) RemoveAccount(id model.AccountID) {
	m.mu.Lock()
	rec, existed := m.byID[id]
	if existed {
		delete(m.byName, rec.name)
		delete(m.byID, id)
	}
	bus := m.bus
	m.mu.Unlock()

	if existed && bus != nil {
		_ = bus.Publish(context.Background(), model.AccountEvent{Kind: model.AccountDeleted, AccountID: id})
	}
}

// ScriptAuth queues forced outcomes for upcoming SetAuthAsUser calls on the
// account. Once the script runs out, normal membership checks resume.
func (m *MemoryAccounts) ScriptAuth(id model.AccountID, outcomes ...bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authScript[id] = append(m.authScript[id], outcomes...)
}

func (m *MemoryAccounts) Exists(id model.AccountID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byID[id]
	return ok
}

func (m *MemoryAccounts) LookupByName(name string) (model.AccountID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	return id, ok
}

func (m *MemoryAccounts) SetAuthAsUser(_ context.Context, id model.AccountID, user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if script := m.authScript[id]; len(script) > 0 {
		outcome := script[0]
		m.authScript[id] = script[1:]
		return outcome
	}

	rec, ok := m.byID[id]
	if !ok {
		return false
	}
	_, ok = rec.users[user]
	return ok
}

// MemoryDevices implements DeviceStore the same way.
type MemoryDevices struct {
	mu      sync.RWMutex
	devices map[deviceKey]deviceRecord
}

type deviceKey struct {
	acct model.AccountID
	dev  model.DeviceID
}

type deviceRecord struct {
	position *model.Position
	keys     *model.DeviceKeys
	attrs    []model.Attribute
}

var _ DeviceStore = (*MemoryDevices)(nil)

func NewMemoryDevices() *MemoryDevices {
	return &MemoryDevices{devices: make(map[deviceKey]deviceRecord)}
}

// AddDevice provisions a device. Position and keys may be nil to model a
// device that never reported either.
func (m *MemoryDevices) AddDevice(acct model.AccountID, dev model.DeviceID, pos *model.Position, keys *model.DeviceKeys, attrs ...model.Attribute) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[deviceKey{acct, dev}] = deviceRecord{position: pos, keys: keys, attrs: attrs}
}

func (m *MemoryDevices) RemoveDevice(acct model.AccountID, dev model.DeviceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, deviceKey{acct, dev})
}

func (m *MemoryDevices) Exists(acct model.AccountID, dev model.DeviceID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.devices[deviceKey{acct, dev}]
	return ok
}

func (m *MemoryDevices) LookupPosition(acct model.AccountID, dev model.DeviceID) model.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.devices[deviceKey{acct, dev}]; ok && rec.position != nil {
		return *rec.position
	}
	return model.Position{}
}

func (m *MemoryDevices) LookupKeys(acct model.AccountID, dev model.DeviceID) model.DeviceKeys {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.devices[deviceKey{acct, dev}]; ok && rec.keys != nil {
		return *rec.keys
	}
	return model.DeviceKeys{}
}

func (m *MemoryDevices) LookupAttr(acct model.AccountID, dev model.DeviceID, name string) []model.Attribute {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.devices[deviceKey{acct, dev}]
	if !ok {
		return []model.Attribute{}
	}
	out := make([]model.Attribute, 0, 1)
	for _, a := range rec.attrs {
		if a.Name == name {
			out = append(out, a)
		}
	}
	return out
}
