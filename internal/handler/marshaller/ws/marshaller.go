// Package wsmarshaller shapes pending delivery items into the JSON frames
// the websocket and long-poll transports put on the wire.
package wsmarshaller

import (
	"encoding/json"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

// Frame is one outbound wire message. Kind tells the device whether an
// acknowledgment is expected (reverse_request) or not (notify), and
// config_push frames carry only the cache reference, never the tree.
type Frame struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Method    string            `json:"method"`
	Elements  []any             `json:"elements,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	ConfigRef string            `json:"config_ref,omitempty"`
	SentAt    int64             `json:"sent_at"`
}

func MarshallItem(item *model.Item) ([]byte, error) {
	return json.Marshal(&Frame{
		ID:        item.ID.String(),
		Kind:      item.Kind.String(),
		Method:    item.Method,
		Elements:  item.Elements,
		Env:       item.Env,
		ConfigRef: item.ConfigRef,
		SentAt:    item.CreatedAt,
	})
}

// InboundFrame is one device-originated message, buffered server-side
// until plugin code drains the from_device queue.
type InboundFrame struct {
	Method   string            `json:"method"`
	Elements []any             `json:"elements,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

func UnmarshallInbound(data []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Batch is the long-poll response envelope.
type Batch struct {
	Items []json.RawMessage `json:"items"`
}

func MarshallBatch(items []*model.Item) ([]byte, error) {
	b := Batch{Items: make([]json.RawMessage, 0, len(items))}
	for _, item := range items {
		raw, err := MarshallItem(item)
		if err != nil {
			return nil, err
		}
		b.Items = append(b.Items, raw)
	}
	return json.Marshal(b)
}
