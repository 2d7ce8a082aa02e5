package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/fieldrelay/internal/audit"
	"github.com/nerrad567/fieldrelay/internal/device"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

// Command sources recorded in the audit log.
const (
	SourceServer = "server"
	SourceMQTT   = "mqtt"
)

const (
	// commandTimeout bounds a single device action.
	commandTimeout = 30 * time.Second

	// recordTimeout bounds an audit write.
	recordTimeout = 5 * time.Second
)

// CommandRecorder persists command outcomes.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, entry *audit.CommandEntry) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Devices is the static device set commands resolve against.
	Devices *device.Set

	// Recorder receives every command outcome. Optional.
	Recorder CommandRecorder

	// Stats receives command counters. Optional.
	Stats *Stats

	// Logger is used for warnings and failures. Optional.
	Logger *logging.Logger
}

// Dispatcher routes commands to device adapters.
//
// Dispatch returns immediately; each accepted action runs on its own
// goroutine so a hung device blocks only that goroutine.
type Dispatcher struct {
	devices  *device.Set
	recorder CommandRecorder
	stats    *Stats
	logger   *logging.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		devices:  cfg.Devices,
		recorder: cfg.Recorder,
		stats:    cfg.Stats,
		logger:   cfg.Logger,
	}
	if d.stats == nil {
		d.stats = &Stats{}
	}
	if d.logger == nil {
		d.logger = logging.Default()
	}
	return d
}

// Dispatch validates cmd and starts the device action.
//
// A device of the form "name:port" addresses one output of a configured
// multi-port device. The action outlives ctx cancellation; use Wait to
// block until all in-flight actions have finished.
//
// Returns:
//   - error: ErrUnknownDevice or ErrUnknownAction when the command is
//     discarded, device.ErrActionUnsupported when the device lacks the
//     capability; nil when the action was started
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	if cmd.ID == "" {
		cmd.ID = "cmd-" + uuid.NewString()
	}
	if cmd.Source == "" {
		cmd.Source = SourceServer
	}
	received := time.Now()
	d.stats.commandsReceived.Add(1)

	log := d.logger.With("command_id", cmd.ID, "device", cmd.Device, "action", cmd.Action, "source", cmd.Source)

	dev, port, found := d.resolve(cmd)
	if !found {
		d.stats.commandsRejected.Add(1)
		log.Warn("discarding command for unknown device")
		d.record(ctx, cmd, received, audit.OutcomeUnknownDevice, nil)
		return fmt.Errorf("%w: %q", ErrUnknownDevice, cmd.Device)
	}

	run, err := bindAction(dev, port, cmd)
	switch {
	case errors.Is(err, ErrUnknownAction):
		d.stats.commandsRejected.Add(1)
		log.Warn("discarding command with unknown action")
		d.record(ctx, cmd, received, audit.OutcomeUnknownAction, nil)
		return err
	case err != nil:
		d.stats.commandsFailed.Add(1)
		log.Warn("device cannot perform action", "device_type", dev.Config.Type, "error", err)
		d.record(ctx, cmd, received, audit.OutcomeFailed, err)
		return err
	}

	d.wg.Add(1)
	go d.apply(context.WithoutCancel(ctx), run, cmd, received, log)
	return nil
}

// Wait blocks until every started action and audit write has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// resolve finds the device named by cmd. An exact name wins over a
// "name:port" split so device names may contain the separator.
func (d *Dispatcher) resolve(cmd Command) (device.Device, string, bool) {
	if d.devices == nil {
		return device.Device{}, "", false
	}
	if dev, ok := d.devices.Lookup(cmd.Device); ok {
		return dev, "", true
	}
	name, port := cmd.Target()
	if port == "" {
		return device.Device{}, "", false
	}
	dev, ok := d.devices.Lookup(name)
	return dev, port, ok
}

// deviceAction is one bound adapter call.
type deviceAction func(ctx context.Context) error

// bindAction maps cmd onto the adapter capability it needs.
func bindAction(dev device.Device, port string, cmd Command) (deviceAction, error) {
	unsupported := fmt.Errorf("%w: %s on %s", device.ErrActionUnsupported, cmd.Action, dev.Config.Type)

	switch cmd.Action {
	case ActionSetState, ActionSetLevel:
		if port == "" && cmd.Action == ActionSetState {
			on := cmd.On()
			return func(ctx context.Context) error { return dev.Adapter.SetState(ctx, on) }, nil
		}
		pc, ok := dev.Adapter.(device.PortController)
		if !ok {
			return nil, unsupported
		}
		level := int(cmd.Value)
		return func(ctx context.Context) error { return pc.SetPortLevel(ctx, port, level) }, nil

	case ActionCountdownOn, ActionCountdownOff:
		cs, ok := dev.Adapter.(device.CountdownSetter)
		if !ok || port != "" {
			return nil, unsupported
		}
		delay := time.Duration(max(cmd.Value, 0)) * time.Second
		on := cmd.Action == ActionCountdownOn
		return func(ctx context.Context) error { return cs.SetCountdown(ctx, delay, on) }, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
}

func (d *Dispatcher) apply(ctx context.Context, run deviceAction, cmd Command, received time.Time, log *logging.Logger) {
	defer d.wg.Done()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", device.ErrDeviceActionFailed, r)
			log.Error("device action panicked", "panic", r)
		}

		if err != nil {
			d.stats.commandsFailed.Add(1)
			d.record(ctx, cmd, received, audit.OutcomeFailed, err)
			return
		}
		d.stats.commandsApplied.Add(1)
		d.record(ctx, cmd, received, audit.OutcomeApplied, nil)
	}()

	actionCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err = run(actionCtx); err != nil {
		log.Error("device action failed", "value", cmd.Value, "error", err)
		return
	}
	log.Info("device action applied", "value", cmd.Value, "duration_ms", time.Since(received).Milliseconds())
}

// record writes the outcome asynchronously. Callers hold no locks.
func (d *Dispatcher) record(ctx context.Context, cmd Command, received time.Time, outcome string, cause error) {
	if d.recorder == nil {
		return
	}

	entry := &audit.CommandEntry{
		ID:         cmd.ID,
		Device:     cmd.Device,
		Action:     cmd.Action,
		Value:      cmd.Value,
		Source:     cmd.Source,
		Outcome:    outcome,
		ReceivedAt: received.UTC(),
		DurationMS: time.Since(received).Milliseconds(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := d.recorder.RecordCommand(recCtx, entry); err != nil {
			d.logger.Warn("failed to record command", "command_id", entry.ID, "error", err)
		}
	}()
}
