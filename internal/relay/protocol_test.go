package relay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/fieldrelay/internal/device"
)

func TestEncodeDecodeData(t *testing.T) {
	countdown, err := device.DataReading("plug-a", "countdown", map[string]any{"remain": 120, "action": "off"})
	if err != nil {
		t.Fatalf("DataReading() error = %v", err)
	}
	batch := device.Batch{
		device.NumberReading("plug-a", "state", 1),
		device.NumberReading("plug-a", "power", 12.5),
		countdown,
		device.NumberReading("co2", "co2", 612),
	}

	payload, err := EncodeData(batch)
	if err != nil {
		t.Fatalf("EncodeData() error = %v", err)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if string(envelope["type"]) != `"data"` {
		t.Errorf("type = %s, want \"data\"", envelope["type"])
	}

	got, err := DecodeData(payload)
	if err != nil {
		t.Fatalf("DecodeData() error = %v", err)
	}
	if len(got) != len(batch) {
		t.Fatalf("len = %d, want %d", len(got), len(batch))
	}
	for i := range batch {
		if got[i].Device != batch[i].Device || got[i].Channel != batch[i].Channel {
			t.Errorf("reading %d = %s/%s, want %s/%s", i, got[i].Device, got[i].Channel, batch[i].Device, batch[i].Channel)
		}
		if err := got[i].Validate(); err != nil {
			t.Errorf("reading %d invalid after round trip: %v", i, err)
		}
	}
	if v, _ := got[1].Float(); v != 12.5 {
		t.Errorf("power = %v, want 12.5", v)
	}
	if string(got[2].Data) != `{"action":"off","remain":120}` {
		t.Errorf("countdown data = %s", got[2].Data)
	}
}

func TestEncodeData_EmptyBatchIsArray(t *testing.T) {
	payload, err := EncodeData(nil)
	if err != nil {
		t.Fatalf("EncodeData() error = %v", err)
	}
	if string(payload) != `{"type":"data","readings":[]}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestDecodeData_Malformed(t *testing.T) {
	for _, in := range []string{`nope`, `{"type":"command"}`} {
		if _, err := DecodeData([]byte(in)); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("DecodeData(%s) error = %v, want ErrMalformedFrame", in, err)
		}
	}
}

func TestEncodeAuth(t *testing.T) {
	payload, err := EncodeAuth("k-123")
	if err != nil {
		t.Fatalf("EncodeAuth() error = %v", err)
	}
	if string(payload) != `{"type":"auth","apiKey":"k-123"}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestParseAuthResponse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"success", `{"type":"auth","success":true}`, nil},
		{"rejected", `{"type":"auth","success":false,"error":"bad key"}`, ErrAuthRejected},
		{"rejected without message", `{"type":"auth","success":false}`, ErrAuthRejected},
		{"missing success", `{"type":"auth"}`, ErrAuthRejected},
		{"wrong type", `{"type":"data","success":true}`, ErrAuthRejected},
		{"not json", `hello`, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseAuthResponse([]byte(tt.payload))
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ParseAuthResponse() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseAuthResponse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Command
		wantErr error
	}{
		{
			name:    "set_state on",
			payload: `{"type":"command","device":"plug-a","action":"set_state","value":1}`,
			want:    Command{Type: "command", Device: "plug-a", Action: "set_state", Value: 1},
		},
		{
			name:    "value omitted",
			payload: `{"type":"command","device":"plug-a","action":"set_state"}`,
			want:    Command{Type: "command", Device: "plug-a", Action: "set_state"},
		},
		{"not a command", `{"type":"data","readings":[]}`, Command{}, errNotCommand},
		{
			name:    "missing device is left to the dispatcher",
			payload: `{"type":"command","action":"set_state"}`,
			want:    Command{Type: "command", Action: "set_state"},
		},
		{
			name:    "missing action is left to the dispatcher",
			payload: `{"type":"command","device":"plug-a","value":1}`,
			want:    Command{Type: "command", Device: "plug-a", Value: 1},
		},
		{
			name:    "port target",
			payload: `{"type":"command","device":"tent:fan","action":"set_level","value":4}`,
			want:    Command{Type: "command", Device: "tent:fan", Action: "set_level", Value: 4},
		},
		{"malformed", `{"type":`, Command{}, ErrMalformedFrame},
		{"non-integer value", `{"type":"command","device":"d","action":"set_state","value":"on"}`, Command{}, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseCommand() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCommand_On(t *testing.T) {
	for value, want := range map[int64]bool{1: true, 100: true, 0: false, -1: false} {
		if got := (Command{Value: value}).On(); got != want {
			t.Errorf("Command{Value: %d}.On() = %v, want %v", value, got, want)
		}
	}
}

func TestCommand_Target(t *testing.T) {
	tests := []struct {
		device   string
		wantName string
		wantPort string
	}{
		{"plug-a", "plug-a", ""},
		{"tent:fan", "tent", "fan"},
		{"tent:2", "tent", "2"},
		{"tent:", "tent", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		name, port := Command{Device: tt.device}.Target()
		if name != tt.wantName || port != tt.wantPort {
			t.Errorf("Target(%q) = (%q, %q), want (%q, %q)", tt.device, name, port, tt.wantName, tt.wantPort)
		}
	}
}
