package store

import (
	"go.uber.org/fx"

	"github.com/webitel/device-delivery-service/internal/adapter/pubsub"
)

// Module wires the in-memory stores as the collaborator implementations.
// A deployment against the real account/device database replaces these two
// bindings and nothing else.
var Module = fx.Module("store",
	fx.Provide(
		func(bus *pubsub.Bus) *MemoryAccounts {
			m := NewMemoryAccounts()
			m.PublishTo(bus)
			return m
		},
		NewMemoryDevices,
		func(m *MemoryAccounts) AccountStore { return m },
		func(m *MemoryDevices) DeviceStore { return m },
	),
)
