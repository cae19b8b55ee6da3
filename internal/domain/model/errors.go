package model

import "errors"

// Error taxonomy returned to facade callers. All failures surface as one of
// these typed sentinels, matched with errors.Is, never as generic failures.
var (
	// ErrNotAuthenticated is returned when an operation requires an active
	// session but no login has succeeded for the calling context.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrUnknownDevice is returned when the target device is not provisioned
	// for the session's account. Distinct from absence of presence: a known
	// device may simply be offline.
	ErrUnknownDevice = errors.New("device: not provisioned for account")

	// ErrNotFound is returned on config cache lookups for evicted or never
	// cached references. Lookups never fall back to a default tree.
	ErrNotFound = errors.New("config: cached tree not found")

	// ErrAuthRejected is returned when login exhausted its retry budget.
	// The account backend does not distinguish rejection from transient
	// unavailability, so neither can we.
	ErrAuthRejected = errors.New("session: authorization rejected")

	// ErrNotConnected is returned by the transport when no live session
	// exists for the target device.
	ErrNotConnected = errors.New("transport: device not connected")
)
