package model

import (
	"time"

	"github.com/google/uuid"
)

type ItemKind int16

const (
	// [ZERO_VALUE_GUARD] start from 1 to distinguish from uninitialized data.
	KindNotify ItemKind = iota + 1
	KindReverseRequest
	KindConfigPush
)

func (k ItemKind) String() string {
	switch k {
	case KindNotify:
		return "notify"
	case KindReverseRequest:
		return "reverse_request"
	case KindConfigPush:
		return "config_push"
	default:
		return "unknown"
	}
}

// Direction separates the server->device backlog from the device->server one.
// The two sub-queues for a pair are disjoint so neither can starve the other.
type Direction int16

const (
	ToDevice Direction = iota + 1
	FromDevice
)

func (d Direction) String() string {
	switch d {
	case ToDevice:
		return "to_device"
	case FromDevice:
		return "from_device"
	default:
		return "unknown"
	}
}

// Item is one pending delivery unit: a notification, a reverse request the
// device must answer, or a reference into the config cache. Every item
// belongs to exactly one (account, device) pair.
type Item struct {
	ID        uuid.UUID         `json:"id"`
	AccountID AccountID         `json:"account_id"`
	DeviceID  DeviceID          `json:"device_id"`
	Kind      ItemKind          `json:"kind"`
	Direction Direction         `json:"direction"`
	Method    string            `json:"method"`
	Elements  []any             `json:"elements,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	CreatedAt int64             `json:"created_at"`
	Retries   int               `json:"retries"`

	// ConfigRef points into the config cache for KindConfigPush items.
	ConfigRef string `json:"config_ref,omitempty"`
}

// NewItem stamps identity and creation time; everything else is caller data.
func NewItem(acct AccountID, dev DeviceID, kind ItemKind, dir Direction, method string, elements []any, env map[string]string) *Item {
	return &Item{
		ID:        uuid.New(),
		AccountID: acct,
		DeviceID:  dev,
		Kind:      kind,
		Direction: dir,
		Method:    method,
		Elements:  elements,
		Env:       env,
		CreatedAt: time.Now().UnixMilli(),
	}
}
