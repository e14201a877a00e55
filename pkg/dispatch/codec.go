package dispatch

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"

	"reviewhook/internal"
)

// Codec decodes bus messages back into events.
type Codec interface {
	Decode(msg *message.Message) (*internal.Event, error)
}

// DefaultCodec decodes the JSON envelope the ingress publishes, falling back
// to message metadata for fields older producers left out of the body.
type DefaultCodec struct{}

func (DefaultCodec) Decode(msg *message.Message) (*internal.Event, error) {
	var evt internal.Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, err
	}
	if evt.Name == "" {
		evt.Name = msg.Metadata.Get("event")
	}
	if evt.Action == "" {
		evt.Action = msg.Metadata.Get("action")
	}
	if evt.DeliveryID == "" {
		evt.DeliveryID = msg.Metadata.Get("delivery_id")
	}
	if evt.Data == nil && len(evt.RawPayload) > 0 {
		var object map[string]interface{}
		if err := json.Unmarshal(evt.RawPayload, &object); err == nil {
			evt.Data = internal.Flatten(object)
		}
	}
	return &evt, nil
}
