package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/fieldrelay/internal/device"
)

// Message types on the collector connection.
const (
	MessageTypeAuth    = "auth"
	MessageTypeData    = "data"
	MessageTypeCommand = "command"
)

// Command actions.
const (
	// ActionSetState switches a device on (value > 0) or off. On a port
	// target the value is the output level.
	ActionSetState = "set_state"

	// ActionSetLevel sets a controller port to value (0 is off).
	ActionSetLevel = "set_level"

	// ActionCountdownOn and ActionCountdownOff arm the device timer to
	// switch after value seconds. A value of 0 cancels the timer.
	ActionCountdownOn  = "countdown_on"
	ActionCountdownOff = "countdown_off"
)

// targetSeparator splits a command device into device and port.
const targetSeparator = ":"

// AuthMessage is the first frame the agent sends on every connection.
type AuthMessage struct {
	Type   string `json:"type"`
	APIKey string `json:"apiKey"`
}

// DataMessage carries one poll tick's batch.
type DataMessage struct {
	Type     string           `json:"type"`
	Readings []device.Reading `json:"readings"`
}

// ServerResponse is the collector's reply to AuthMessage.
type ServerResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Command is a device action requested by the collector or a local client.
type Command struct {
	Type   string `json:"type"`
	Device string `json:"device"`
	Action string `json:"action"`
	Value  int64  `json:"value"`

	// ID and Source are assigned on receipt and never sent on the wire.
	ID     string `json:"-"`
	Source string `json:"-"`
}

// On reports the requested switch state for set_state.
func (c Command) On() bool {
	return c.Value > 0
}

// Target splits Device of the form "device:port". Port is empty when
// no separator is present.
func (c Command) Target() (name, port string) {
	name, port, _ = strings.Cut(c.Device, targetSeparator)
	return name, port
}

// EncodeAuth builds the auth frame payload.
func EncodeAuth(apiKey string) ([]byte, error) {
	return json.Marshal(AuthMessage{Type: MessageTypeAuth, APIKey: apiKey})
}

// EncodeData builds the data frame payload for a batch.
func EncodeData(batch device.Batch) ([]byte, error) {
	readings := []device.Reading(batch)
	if readings == nil {
		readings = []device.Reading{}
	}
	b, err := json.Marshal(DataMessage{Type: MessageTypeData, Readings: readings})
	if err != nil {
		return nil, fmt.Errorf("encoding data message: %w", err)
	}
	return b, nil
}

// DecodeData parses a data frame payload.
func DecodeData(payload []byte) (device.Batch, error) {
	var msg DataMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if msg.Type != MessageTypeData {
		return nil, fmt.Errorf("%w: type %q is not data", ErrMalformedFrame, msg.Type)
	}
	return device.Batch(msg.Readings), nil
}

// ParseAuthResponse validates the collector's auth reply.
//
// Returns:
//   - ErrMalformedFrame if the payload is not a JSON object
//   - ErrAuthRejected if the type is wrong or success is false
func ParseAuthResponse(payload []byte) error {
	var resp ServerResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if resp.Type != MessageTypeAuth {
		return fmt.Errorf("%w: unexpected reply type %q", ErrAuthRejected, resp.Type)
	}
	if !resp.Success {
		if resp.Error != "" {
			return fmt.Errorf("%w: %s", ErrAuthRejected, resp.Error)
		}
		return ErrAuthRejected
	}
	return nil
}

// ParseCommand decodes an inbound text frame. Device and action are not
// checked here; the dispatcher rejects and audits empty or unknown ones.
//
// Returns:
//   - ErrMalformedFrame if the payload is not a JSON object
//   - errNotCommand if the frame is valid JSON of another type
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if cmd.Type != MessageTypeCommand {
		return Command{}, errNotCommand
	}
	return cmd, nil
}
