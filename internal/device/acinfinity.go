package device

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

// Controller channel names.
const (
	ChannelTemperature = "temperature"
	ChannelHumidity    = "humidity"
	ChannelVPD         = "vpd"
	ChannelLevel       = "level"
)

// acSensorScale converts API sensor values, sent in hundredths.
const acSensorScale = 100.0

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// slug lowercases s and joins its alphanumeric runs with dashes.
func slug(s string) string {
	return strings.Trim(slugSeparators.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// ACInfinity adapts one controller on an AC Infinity cloud account.
//
// The controller is the first whose name contains the configured match,
// ignoring case. Controller sensors report under the device name; each
// port reports under <name>-<port label>.
type ACInfinity struct {
	name   string
	match  string
	client ACInfinityClient
	logger *logging.Logger
}

// NewACInfinity creates a controller adapter over client.
func NewACInfinity(name, controller string, client ACInfinityClient, logger *logging.Logger) *ACInfinity {
	if logger == nil {
		logger = logging.Default()
	}
	return &ACInfinity{name: name, match: strings.ToLower(controller), client: client, logger: logger}
}

func (a *ACInfinity) controller(ctx context.Context) (ACController, error) {
	controllers, err := a.client.Controllers(ctx)
	if err != nil {
		return ACController{}, err
	}
	for _, c := range controllers {
		if strings.Contains(strings.ToLower(c.Name()), a.match) {
			return c, nil
		}
	}
	return ACController{}, fmt.Errorf("no controller matching %q among %d", a.match, len(controllers))
}

// GetReadings reports controller climate and per-port output levels.
func (a *ACInfinity) GetReadings(ctx context.Context) ([]Reading, error) {
	c, err := a.controller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceQueryFailed, a.name, err)
	}

	var readings []Reading
	scaled := func(device, channel string, v *float64) {
		if v != nil {
			readings = append(readings, NumberReading(device, channel, *v/acSensorScale))
		}
	}

	sensors := c.Sensors()
	scaled(a.name, ChannelTemperature, sensors.Temperature)
	scaled(a.name, ChannelHumidity, sensors.Humidity)
	scaled(a.name, ChannelVPD, sensors.VPDNums)

	for _, p := range c.PortList() {
		portDevice := a.name + "-" + slug(p.Label())
		scaled(portDevice, ChannelTemperature, p.Temperature)
		scaled(portDevice, ChannelHumidity, p.Humidity)
		if p.Speak != nil {
			readings = append(readings, NumberReading(portDevice, ChannelLevel, *p.Speak))
		}
	}

	if len(readings) == 0 {
		a.logger.Debug("controller reported no sensor values", "controller", c.Name())
	}
	return readings, nil
}

// SetState drives the first port fully on or off.
func (a *ACInfinity) SetState(ctx context.Context, on bool) error {
	level := 0
	if on {
		level = ACMaxLevel
	}
	return a.SetPortLevel(ctx, "", level)
}

// SetPortLevel sets the output level of one port.
//
// Parameters:
//   - port: Port name fragment or number; empty selects the first port
//   - level: Output level, clamped to 0..ACMaxLevel; 0 switches the port off
//
// Returns:
//   - error: ErrDeviceActionFailed wrapping the cause, including ErrUnknownPort
func (a *ACInfinity) SetPortLevel(ctx context.Context, port string, level int) error {
	c, err := a.controller(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceActionFailed, a.name, err)
	}

	number, err := resolvePort(c.PortList(), port)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceActionFailed, a.name, err)
	}

	if err := a.client.SetPortLevel(ctx, string(c.DevID), number, level); err != nil {
		return fmt.Errorf("%w: %s port %d: %w", ErrDeviceActionFailed, a.name, number, err)
	}
	a.logger.Info("controller port set", "controller", c.Name(), "port", number, "level", level)
	return nil
}

// resolvePort matches selector against port labels, then as a number.
func resolvePort(ports []ACPort, selector string) (int, error) {
	if selector == "" {
		if len(ports) == 0 {
			return 0, fmt.Errorf("%w: controller has no ports", ErrUnknownPort)
		}
		return ports[0].Number(), nil
	}

	want := strings.ToLower(selector)
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p.Label()), want) {
			return p.Number(), nil
		}
	}
	if n, err := strconv.Atoi(selector); err == nil && n > 0 {
		return n, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPort, selector)
}
