package model

// AccountID is the opaque tenant identifier owning devices and users.
type AccountID string

// DeviceID identifies a provisioned device within an account.
type DeviceID string

// Protocol names the transport a device session speaks (e.g. "ws", "cwmp").
type Protocol string

// Position is the last reported geolocation of a device.
// The zero value (0.0, 0.0, 0) is the documented default for devices
// that never reported a fix.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// DeviceKeys holds the per-device shared secrets used by the transport.
// Absent devices default to all-zero keys.
type DeviceKeys struct {
	ClientKey [8]byte `json:"client_key"`
	ServerKey [8]byte `json:"server_key"`
}

// Attribute is a single named device attribute.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ConfigTree is a hierarchical configuration payload pushed to a device.
// Leaves carry Value; inner nodes carry Children.
type ConfigTree struct {
	Name     string        `json:"name"`
	Value    string        `json:"value,omitempty"`
	Children []*ConfigTree `json:"children,omitempty"`
}
