package device

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/fieldrelay/internal/infrastructure/config"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

// Adapter is the capability every device backend exposes to the relay.
type Adapter interface {
	// GetReadings returns the device's current metrics. Individual metrics
	// that fail are omitted; an error means the device produced nothing.
	GetReadings(ctx context.Context) ([]Reading, error)

	// SetState switches the device on or off.
	SetState(ctx context.Context, on bool) error
}

// CountdownSetter is implemented by adapters with an on-device timer.
type CountdownSetter interface {
	// SetCountdown switches the device to on once delay has passed.
	// A zero delay cancels a pending countdown.
	SetCountdown(ctx context.Context, delay time.Duration, on bool) error
}

// PortController is implemented by adapters that drive several outputs.
type PortController interface {
	// SetPortLevel sets one output, selected by name fragment or number.
	SetPortLevel(ctx context.Context, port string, level int) error
}

// defaultRequestTimeout bounds a single plug HTTP call.
const defaultRequestTimeout = 10 * time.Second

// Options carries shared dependencies for adapter construction.
type Options struct {
	Logger     *logging.Logger
	HTTPClient *http.Client

	// OpenPort overrides how S88 sensors open their serial line.
	OpenPort PortOpener

	// ACInfinityURL overrides the AC Infinity cloud host.
	ACInfinityURL string
}

// NewAdapter resolves a device configuration to its adapter by type.
//
// Returns:
//   - Adapter: Ready-to-use adapter
//   - error: ErrUnsupportedType if the type has no implementation
func NewAdapter(cfg config.DeviceConfig, opts Options) (Adapter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("device", cfg.Name, "device_type", cfg.Type)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	switch cfg.Type {
	case config.DeviceTypeP100, config.DeviceTypeP105:
		client := NewHTTPPlugClient(cfg.Address, cfg.Credentials, httpClient)
		return NewPlug(cfg.Name, client, false, logger), nil
	case config.DeviceTypeP110, config.DeviceTypeP115:
		client := NewHTTPPlugClient(cfg.Address, cfg.Credentials, httpClient)
		return NewPlug(cfg.Name, client, true, logger), nil
	case config.DeviceTypeACInfinity:
		client := NewHTTPACInfinityClient(opts.ACInfinityURL, cfg.Credentials, httpClient)
		return NewACInfinity(cfg.Name, cfg.Address, client, logger), nil
	case config.DeviceTypeS88:
		return NewS88Sensor(cfg.Name, cfg.Address, opts.OpenPort), nil
	case config.DeviceTypeSim:
		return NewSimulated(cfg.Name), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, cfg.Type)
	}
}
