package device

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

// Plug channel names.
const (
	ChannelState        = "state"
	ChannelOnTime       = "on_time"
	ChannelSignalLevel  = "signal_level"
	ChannelRSSI         = "rssi"
	ChannelPower        = "power"
	ChannelEnergyToday  = "energy_today"
	ChannelRuntimeToday = "runtime_today"
	ChannelEnergyMonth  = "energy_month"
	ChannelRuntimeMonth = "runtime_month"
	ChannelCountdown    = "countdown"
	ChannelSchedules    = "schedules"
)

// milliwattsPerWatt converts get_current_power output to watts.
const milliwattsPerWatt = 1000.0

// Plug adapts a smart plug. Energy plugs also report power and energy.
type Plug struct {
	name   string
	client PlugClient
	energy bool
	logger *logging.Logger
}

// NewPlug creates a plug adapter over client.
func NewPlug(name string, client PlugClient, energy bool, logger *logging.Logger) *Plug {
	if logger == nil {
		logger = logging.Default()
	}
	return &Plug{name: name, client: client, energy: energy, logger: logger}
}

// countdownSummary is the reported shape of the active countdown.
type countdownSummary struct {
	Remain int64   `json:"remain"`
	Action *string `json:"action"`
}

// GetReadings queries every metric in a fixed order. Failed metrics are
// skipped; if nothing succeeds the first error is returned.
func (p *Plug) GetReadings(ctx context.Context) ([]Reading, error) {
	var (
		readings []Reading
		firstErr error
	)
	fail := func(metric string, err error) {
		p.logger.Debug("plug metric unavailable", "metric", metric, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if info, err := p.client.DeviceInfo(ctx); err != nil {
		fail(methodGetDeviceInfo, err)
	} else {
		readings = append(readings,
			NumberReading(p.name, ChannelState, boolValue(info.DeviceOn)),
			NumberReading(p.name, ChannelOnTime, float64(info.OnTime)),
			NumberReading(p.name, ChannelSignalLevel, float64(info.SignalLevel)),
			NumberReading(p.name, ChannelRSSI, float64(info.RSSI)),
		)
	}

	if p.energy {
		if power, err := p.client.CurrentPower(ctx); err != nil {
			fail(methodGetCurrentPower, err)
		} else {
			readings = append(readings, NumberReading(p.name, ChannelPower, float64(power.CurrentPower)/milliwattsPerWatt))
		}

		if usage, err := p.client.EnergyUsage(ctx); err != nil {
			fail(methodGetEnergyUsage, err)
		} else {
			readings = append(readings,
				NumberReading(p.name, ChannelEnergyToday, float64(usage.TodayEnergy)),
				NumberReading(p.name, ChannelRuntimeToday, float64(usage.TodayRuntime)),
				NumberReading(p.name, ChannelEnergyMonth, float64(usage.MonthEnergy)),
				NumberReading(p.name, ChannelRuntimeMonth, float64(usage.MonthRuntime)),
			)
		}
	}

	if rules, err := p.client.CountdownRules(ctx); err != nil {
		fail(methodGetCountdownRules, err)
	} else if r, err := DataReading(p.name, ChannelCountdown, activeCountdown(rules)); err != nil {
		fail(methodGetCountdownRules, err)
	} else {
		readings = append(readings, r)
	}

	if schedules, err := p.client.ScheduleRules(ctx); err != nil {
		fail(methodGetScheduleRules, err)
	} else {
		list := schedules.Rules
		if list == nil {
			list = []ScheduleRule{}
		}
		if r, err := DataReading(p.name, ChannelSchedules, list); err != nil {
			fail(methodGetScheduleRules, err)
		} else {
			readings = append(readings, r)
		}
	}

	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceQueryFailed, p.name, firstErr)
	}
	return readings, nil
}

// activeCountdown returns the first enabled rule, or nil when none is running.
func activeCountdown(rules CountdownRules) *countdownSummary {
	for _, rule := range rules.Rules {
		if !rule.Enable {
			continue
		}
		summary := &countdownSummary{Remain: rule.Remain}
		if rule.DesiredStates != nil && rule.DesiredStates.On != nil {
			action := "off"
			if *rule.DesiredStates.On {
				action = "on"
			}
			summary.Action = &action
		}
		return summary
	}
	return nil
}

// SetState switches the plug relay.
func (p *Plug) SetState(ctx context.Context, on bool) error {
	if err := p.client.SetDeviceOn(ctx, on); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceActionFailed, p.name, err)
	}
	return nil
}

// SetCountdown arms the plug's countdown timer. Delays below one second
// cancel it.
func (p *Plug) SetCountdown(ctx context.Context, delay time.Duration, on bool) error {
	seconds := int64(delay / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	if err := p.client.SetCountdown(ctx, seconds, on); err != nil {
		return fmt.Errorf("%w: %s: countdown: %w", ErrDeviceActionFailed, p.name, err)
	}
	return nil
}
