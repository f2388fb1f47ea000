package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the JSON frame exchanged over the signaling websocket:
//
//	{"event": "offer", "data": {...}}
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrMissingEvent is returned by Decode for frames without an event name.
var ErrMissingEvent = errors.New("signaling frame has no event")

// NewEnvelope marshals payload into an Envelope for event.
func NewEnvelope(event Event, payload any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return env, nil
}

// Encode serializes an event and its payload into a websocket text frame.
func Encode(event Event, payload any) ([]byte, error) {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode deserializes a websocket text frame into an Envelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed signaling frame: %w", err)
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	return &env, nil
}

// Bind decodes the envelope payload into v.
func (e *Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", e.Event, err)
	}
	return nil
}

// Routing extracts the call id and sender of a call-scoped payload. Payloads
// that are not JSON objects (e.g. a bare room id) yield an empty Routing.
func (e *Envelope) Routing() Routing {
	var r Routing
	_ = json.Unmarshal(e.Data, &r)
	return r
}
