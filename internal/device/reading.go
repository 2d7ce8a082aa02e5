package device

import (
	"encoding/json"
	"fmt"
)

// Reading is one metric sample from one device.
//
// Exactly one of Value or Data is set. Data carries structured values such as
// countdown or schedule rules and may hold a JSON null.
type Reading struct {
	Device  string          `json:"device"`
	Channel string          `json:"channel"`
	Value   *float64        `json:"value,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Batch is the ordered set of readings collected in one poll tick.
type Batch []Reading

// NumberReading builds a numeric reading.
func NumberReading(device, channel string, value float64) Reading {
	return Reading{Device: device, Channel: channel, Value: &value}
}

// DataReading builds a structured reading by marshalling v.
func DataReading(device, channel string, v any) (Reading, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: marshalling %s/%s: %w", ErrInvalidReading, device, channel, err)
	}
	return Reading{Device: device, Channel: channel, Data: raw}, nil
}

// Validate checks the exactly-one-of invariant and the identifying fields.
func (r Reading) Validate() error {
	if r.Device == "" || r.Channel == "" {
		return fmt.Errorf("%w: device and channel are required", ErrInvalidReading)
	}
	hasValue := r.Value != nil
	hasData := len(r.Data) > 0
	if hasValue == hasData {
		return fmt.Errorf("%w: %s/%s must carry exactly one of value or data", ErrInvalidReading, r.Device, r.Channel)
	}
	return nil
}

// Float returns the numeric value and whether one is present.
func (r Reading) Float() (float64, bool) {
	if r.Value == nil {
		return 0, false
	}
	return *r.Value, true
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
