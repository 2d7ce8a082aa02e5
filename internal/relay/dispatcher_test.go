package relay

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/nerrad567/fieldrelay/internal/audit"
	"github.com/nerrad567/fieldrelay/internal/device"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

func newTestDispatcher(t *testing.T, adapters map[string]*mockAdapter, order ...string) (*Dispatcher, *memoryAudit, *Stats) {
	t.Helper()
	rec := &memoryAudit{}
	stats := &Stats{}
	d := NewDispatcher(DispatcherConfig{
		Devices:  newTestSet(t, adapters, order...),
		Recorder: rec,
		Stats:    stats,
		Logger:   logging.Discard(),
	})
	return d, rec, stats
}

func TestDispatcher_SetState(t *testing.T) {
	tests := []struct {
		value  int64
		wantOn bool
	}{
		{1, true},
		{255, true},
		{0, false},
		{-3, false},
	}

	for _, tt := range tests {
		plug := &mockAdapter{}
		d, rec, stats := newTestDispatcher(t, map[string]*mockAdapter{"plug-a": plug}, "plug-a")

		err := d.Dispatch(context.Background(), Command{Type: "command", Device: "plug-a", Action: ActionSetState, Value: tt.value})
		if err != nil {
			t.Fatalf("Dispatch(value=%d) error = %v", tt.value, err)
		}
		d.Wait()

		calls := plug.calls()
		if len(calls) != 1 || calls[0] != tt.wantOn {
			t.Errorf("value=%d: SetState calls = %v, want [%v]", tt.value, calls, tt.wantOn)
		}

		entries := rec.commandEntries()
		if len(entries) != 1 || entries[0].Outcome != audit.OutcomeApplied {
			t.Errorf("value=%d: audit = %+v, want one applied entry", tt.value, entries)
		}
		if !strings.HasPrefix(entries[0].ID, "cmd-") || entries[0].Source != SourceServer {
			t.Errorf("entry = %+v", entries[0])
		}
		if snap := stats.Snapshot(); snap.CommandsReceived != 1 || snap.CommandsApplied != 1 {
			t.Errorf("stats = %+v", snap)
		}
	}
}

func TestDispatcher_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		cmd         Command
		wantErr     error
		wantOutcome string
	}{
		{
			name:        "unknown device",
			cmd:         Command{Device: "ghost", Action: ActionSetState, Value: 1},
			wantErr:     ErrUnknownDevice,
			wantOutcome: audit.OutcomeUnknownDevice,
		},
		{
			name:        "unknown action",
			cmd:         Command{Device: "plug-a", Action: "reboot"},
			wantErr:     ErrUnknownAction,
			wantOutcome: audit.OutcomeUnknownAction,
		},
		{
			name:        "empty device",
			cmd:         Command{Action: ActionSetState, Value: 1},
			wantErr:     ErrUnknownDevice,
			wantOutcome: audit.OutcomeUnknownDevice,
		},
		{
			name:        "empty action",
			cmd:         Command{Device: "plug-a", Value: 1},
			wantErr:     ErrUnknownAction,
			wantOutcome: audit.OutcomeUnknownAction,
		},
		{
			name:        "port on unknown device",
			cmd:         Command{Device: "ghost:fan", Action: ActionSetLevel, Value: 3},
			wantErr:     ErrUnknownDevice,
			wantOutcome: audit.OutcomeUnknownDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plug := &mockAdapter{}
			d, rec, stats := newTestDispatcher(t, map[string]*mockAdapter{"plug-a": plug}, "plug-a")

			err := d.Dispatch(context.Background(), tt.cmd)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
			d.Wait()

			if len(plug.calls()) != 0 {
				t.Error("adapter invoked for a rejected command")
			}
			entries := rec.commandEntries()
			if len(entries) != 1 || entries[0].Outcome != tt.wantOutcome {
				t.Errorf("audit = %+v, want outcome %q", entries, tt.wantOutcome)
			}
			if stats.Snapshot().CommandsRejected != 1 {
				t.Errorf("CommandsRejected = %d, want 1", stats.Snapshot().CommandsRejected)
			}
		})
	}
}

func TestDispatcher_ActionFailureIsRecorded(t *testing.T) {
	plug := &mockAdapter{setErr: errBoom}
	d, rec, stats := newTestDispatcher(t, map[string]*mockAdapter{"plug-a": plug}, "plug-a")

	if err := d.Dispatch(context.Background(), Command{Device: "plug-a", Action: ActionSetState, Value: 1, Source: SourceMQTT}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	d.Wait()

	entries := rec.commandEntries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Outcome != audit.OutcomeFailed || e.Error != "boom" || e.Source != SourceMQTT {
		t.Errorf("entry = %+v", e)
	}
	if stats.Snapshot().CommandsFailed != 1 {
		t.Errorf("CommandsFailed = %d, want 1", stats.Snapshot().CommandsFailed)
	}
}

func TestDispatcher_PanicIsContained(t *testing.T) {
	plug := &mockAdapter{panicSet: true}
	d, rec, _ := newTestDispatcher(t, map[string]*mockAdapter{"plug-a": plug}, "plug-a")

	if err := d.Dispatch(context.Background(), Command{Device: "plug-a", Action: ActionSetState, Value: 1}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	d.Wait()

	entries := rec.commandEntries()
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeFailed {
		t.Errorf("audit = %+v, want one failed entry", entries)
	}
}

func TestDispatcher_ActionOutlivesCancelledContext(t *testing.T) {
	plug := &mockAdapter{}
	d, _, _ := newTestDispatcher(t, map[string]*mockAdapter{"plug-a": plug}, "plug-a")

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Dispatch(ctx, Command{Device: "plug-a", Action: ActionSetState, Value: 1}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	cancel()
	d.Wait()

	if len(plug.calls()) != 1 {
		t.Errorf("SetState calls = %d, want 1", len(plug.calls()))
	}
}

func TestDispatcher_NoRecorder(t *testing.T) {
	plug := &mockAdapter{}
	d := NewDispatcher(DispatcherConfig{
		Devices: newTestSet(t, map[string]*mockAdapter{"plug-a": plug}, "plug-a"),
	})
	if err := d.Dispatch(context.Background(), Command{Device: "plug-a", Action: ActionSetState}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	d.Wait()
	if calls := plug.calls(); len(calls) != 1 || calls[0] {
		t.Errorf("SetState calls = %v, want [false]", calls)
	}
}

func TestDispatcher_PortAndCountdownActions(t *testing.T) {
	tests := []struct {
		name           string
		cmd            Command
		wantPorts      []string
		wantCountdowns []string
		wantStates     []bool
	}{
		{
			name:      "level on named port",
			cmd:       Command{Device: "tent:fan", Action: ActionSetLevel, Value: 4},
			wantPorts: []string{"fan=4"},
		},
		{
			name:      "set_state on port passes value as level",
			cmd:       Command{Device: "tent:2", Action: ActionSetState, Value: 7},
			wantPorts: []string{"2=7"},
		},
		{
			name:      "level without port uses default port",
			cmd:       Command{Device: "tent", Action: ActionSetLevel, Value: 3},
			wantPorts: []string{"=3"},
		},
		{
			name:       "set_state without port switches device",
			cmd:        Command{Device: "tent", Action: ActionSetState, Value: 1},
			wantStates: []bool{true},
		},
		{
			name:           "countdown off",
			cmd:            Command{Device: "tent", Action: ActionCountdownOff, Value: 600},
			wantCountdowns: []string{"10m0s->false"},
		},
		{
			name:           "countdown on",
			cmd:            Command{Device: "tent", Action: ActionCountdownOn, Value: 45},
			wantCountdowns: []string{"45s->true"},
		},
		{
			name:           "negative delay cancels",
			cmd:            Command{Device: "tent", Action: ActionCountdownOff, Value: -5},
			wantCountdowns: []string{"0s->false"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tent := &controllerAdapter{}
			set, err := device.NewSet([]device.Device{testDevice("tent", "ACINFINITY", tent)})
			if err != nil {
				t.Fatalf("NewSet() error = %v", err)
			}
			rec := &memoryAudit{}
			d := NewDispatcher(DispatcherConfig{Devices: set, Recorder: rec, Logger: logging.Discard()})

			if err := d.Dispatch(context.Background(), tt.cmd); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			d.Wait()

			ports, countdowns := tent.recorded()
			if !slices.Equal(ports, tt.wantPorts) {
				t.Errorf("port calls = %v, want %v", ports, tt.wantPorts)
			}
			if !slices.Equal(countdowns, tt.wantCountdowns) {
				t.Errorf("countdown calls = %v, want %v", countdowns, tt.wantCountdowns)
			}
			if states := tent.calls(); !slices.Equal(states, tt.wantStates) {
				t.Errorf("SetState calls = %v, want %v", states, tt.wantStates)
			}

			entries := rec.commandEntries()
			if len(entries) != 1 || entries[0].Outcome != audit.OutcomeApplied || entries[0].Device != tt.cmd.Device {
				t.Errorf("audit = %+v, want one applied entry for %s", entries, tt.cmd.Device)
			}
		})
	}
}

func TestDispatcher_UnsupportedCapability(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"countdown on sensor", Command{Device: "co2", Action: ActionCountdownOn, Value: 60}},
		{"port on single-output device", Command{Device: "co2:1", Action: ActionSetLevel, Value: 5}},
		{"countdown on port", Command{Device: "tent:fan", Action: ActionCountdownOff, Value: 60}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co2 := &mockAdapter{}
			tent := &controllerAdapter{}
			set, err := device.NewSet([]device.Device{
				testDevice("co2", "S88", co2),
				testDevice("tent", "ACINFINITY", tent),
			})
			if err != nil {
				t.Fatalf("NewSet() error = %v", err)
			}
			rec := &memoryAudit{}
			stats := &Stats{}
			d := NewDispatcher(DispatcherConfig{Devices: set, Recorder: rec, Stats: stats, Logger: logging.Discard()})

			err = d.Dispatch(context.Background(), tt.cmd)
			if !errors.Is(err, device.ErrActionUnsupported) {
				t.Errorf("Dispatch() error = %v, want ErrActionUnsupported", err)
			}
			d.Wait()

			ports, countdowns := tent.recorded()
			if len(co2.calls())+len(tent.calls())+len(ports)+len(countdowns) != 0 {
				t.Error("adapter invoked for an unsupported action")
			}
			entries := rec.commandEntries()
			if len(entries) != 1 || entries[0].Outcome != audit.OutcomeFailed || entries[0].Error == "" {
				t.Errorf("audit = %+v, want one failed entry with error", entries)
			}
			if snap := stats.Snapshot(); snap.CommandsFailed != 1 || snap.CommandsRejected != 0 {
				t.Errorf("stats = %+v", snap)
			}
		})
	}
}
