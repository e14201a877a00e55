package internal

import "encoding/json"

// Event is one verified webhook delivery. It is constructed by the ingress
// after signature verification and is immutable from then on.
type Event struct {
	// Name is the event type from the X-GitHub-Event header.
	Name string `json:"name"`
	// Action is the payload "action" field, empty for events without one.
	Action string `json:"action"`
	// DeliveryID is the X-GitHub-Delivery header value.
	DeliveryID string `json:"delivery_id"`
	// RawPayload is the request body exactly as received. Signature checks
	// and installation lookups work on these bytes, never on re-serialized
	// JSON.
	RawPayload json.RawMessage `json:"raw_payload"`
	// Data is the payload flattened into dotted keys for rule evaluation.
	Data map[string]interface{} `json:"data"`
}
