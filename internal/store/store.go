package store

import (
	"context"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

// AccountStore is the boundary to the account/session database. The core
// never reaches into its storage format; it only needs resolution,
// authorization and lifecycle notification hooks.
type AccountStore interface {
	// Exists reports whether the given canonical account ID is known.
	Exists(id model.AccountID) bool

	// LookupByName resolves a human account name to its canonical ID.
	// Returns ok=false when no such account exists; lookup is
	// deterministic, never transient.
	LookupByName(name string) (model.AccountID, bool)

	// SetAuthAsUser attempts authorization of user within the account.
	// false covers both outright rejection and transient backend
	// unavailability; the contract gives callers no way to tell them
	// apart, so both are treated as retryable.
	SetAuthAsUser(ctx context.Context, id model.AccountID, user string) bool
}

// DeviceStore is the boundary to the device registry. Existence here means
// "provisioned", independent of presence.
type DeviceStore interface {
	Exists(acct model.AccountID, dev model.DeviceID) bool

	// LookupPosition returns the stored position, or the zero value
	// (0.0, 0.0, 0) when the device never reported one.
	LookupPosition(acct model.AccountID, dev model.DeviceID) model.Position

	// LookupKeys returns the transport key pair, or all-zero 8-byte keys
	// when none are provisioned.
	LookupKeys(acct model.AccountID, dev model.DeviceID) model.DeviceKeys

	// LookupAttr returns the matching attributes, or an empty slice.
	LookupAttr(acct model.AccountID, dev model.DeviceID, name string) []model.Attribute
}
