package device

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestReading_Validate(t *testing.T) {
	data, err := DataReading("plug-a", ChannelCountdown, map[string]int{"remain": 30})
	if err != nil {
		t.Fatalf("DataReading() error = %v", err)
	}
	null, err := DataReading("plug-a", ChannelCountdown, nil)
	if err != nil {
		t.Fatalf("DataReading(nil) error = %v", err)
	}
	both := NumberReading("plug-a", ChannelState, 1)
	both.Data = json.RawMessage(`{}`)

	tests := []struct {
		name    string
		reading Reading
		wantErr bool
	}{
		{"numeric", NumberReading("plug-a", ChannelState, 1), false},
		{"zero numeric", NumberReading("plug-a", ChannelPower, 0), false},
		{"structured", data, false},
		{"null structured", null, false},
		{"neither", Reading{Device: "plug-a", Channel: ChannelState}, true},
		{"both", both, true},
		{"missing device", NumberReading("", ChannelState, 1), true},
		{"missing channel", NumberReading("plug-a", "", 1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reading.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidReading) {
				t.Errorf("Validate() error = %v, want ErrInvalidReading", err)
			}
		})
	}
}

func TestReading_JSONShape(t *testing.T) {
	b, err := json.Marshal(NumberReading("plug-a", ChannelPower, 12.5))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got, want := string(b), `{"device":"plug-a","channel":"power","value":12.5}`; got != want {
		t.Errorf("Marshal() = %s, want %s", got, want)
	}

	r, err := DataReading("plug-a", ChannelCountdown, nil)
	if err != nil {
		t.Fatalf("DataReading() error = %v", err)
	}
	b, err = json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got, want := string(b), `{"device":"plug-a","channel":"countdown","data":null}`; got != want {
		t.Errorf("Marshal() = %s, want %s", got, want)
	}
}

func TestReading_Float(t *testing.T) {
	if v, ok := NumberReading("d", "c", 3).Float(); !ok || v != 3 {
		t.Errorf("Float() = %v, %v, want 3, true", v, ok)
	}
	r, _ := DataReading("d", "c", []int{1}) //nolint:errcheck // static input
	if _, ok := r.Float(); ok {
		t.Error("Float() ok = true for structured reading")
	}
}
