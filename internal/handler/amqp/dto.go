package amqp

// ItemV1 is the broker payload for both notify and reverse-request topics;
// the topic decides the kind.
type ItemV1 struct {
	AccountID string            `json:"account_id"`
	DeviceID  string            `json:"device_id"`
	Method    string            `json:"method"`
	Elements  []any             `json:"elements,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}
