package model

// AccountEventKind is the lifecycle event class a session subscribes to.
// A context holds at most one subscription at a time: "add" while logged
// out (waiting for its account to appear) or "delete" while logged in
// (watching for its account to vanish).
type AccountEventKind string

const (
	AccountAdded   AccountEventKind = "add"
	AccountDeleted AccountEventKind = "delete"
)

// AccountEvent is the asynchronous lifecycle message delivered to
// subscribed sessions.
type AccountEvent struct {
	Kind      AccountEventKind `json:"kind"`
	AccountID AccountID        `json:"account_id"`
}
