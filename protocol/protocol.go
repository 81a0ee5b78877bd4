// Package protocol defines the named events exchanged between board clients
// and the relay and the JSON envelope that carries them.
package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Event names on the wire.
const (
	EventConnect         = "connect"
	EventUsersUpdate     = "users:update"
	EventTasksUpdate     = "tasks:update"
	EventTaskInteraction = "task:interaction"
)

// MaxFrameSize bounds a single inbound frame.
const MaxFrameSize = 1 << 20

var errMissingEvent = errors.New("frame has no event name")

// Envelope is a single frame on the connection.
type Envelope struct {
	Event string                 `json:"event"`
	Data  sonic.NoCopyRawMessage `json:"data,omitempty"`
}

// ConnectData is the payload of the connect handshake. ID is the
// connection-scoped identity assigned by the relay.
type ConnectData struct {
	ID string `json:"id"`
}

// Encode builds a frame for event carrying v as its payload. A nil v produces
// a frame without data.
func Encode(event string, v any) ([]byte, error) {
	env := Envelope{Event: event}
	if v != nil {
		data, err := sonic.ConfigStd.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return sonic.ConfigStd.Marshal(env)
}

// Decode parses a frame. Payloads are not validated beyond JSON decoding.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.ConfigStd.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errMissingEvent
	}
	return env, nil
}

// Bind decodes the envelope payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := sonic.ConfigStd.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}
