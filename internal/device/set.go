package device

import (
	"fmt"

	"github.com/nerrad567/fieldrelay/internal/infrastructure/config"
)

// Device pairs a static configuration with its adapter.
type Device struct {
	Config  config.DeviceConfig
	Adapter Adapter
}

// Name returns the configured device name.
func (d Device) Name() string {
	return d.Config.Name
}

// Set is the static device set, in configuration order.
//
// A Set is immutable after construction and safe for concurrent reads.
type Set struct {
	devices []Device
	byName  map[string]int
}

// NewSet builds a Set from already-constructed devices.
//
// Returns:
//   - *Set: Device set preserving the given order
//   - error: ErrDuplicateName if two devices share a name
func NewSet(devices []Device) (*Set, error) {
	s := &Set{
		devices: make([]Device, 0, len(devices)),
		byName:  make(map[string]int, len(devices)),
	}
	for _, d := range devices {
		if _, exists := s.byName[d.Name()]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, d.Name())
		}
		s.byName[d.Name()] = len(s.devices)
		s.devices = append(s.devices, d)
	}
	return s, nil
}

// Build constructs adapters for every configured device.
func Build(cfgs []config.DeviceConfig, opts Options) (*Set, error) {
	devices := make([]Device, 0, len(cfgs))
	for _, cfg := range cfgs {
		adapter, err := NewAdapter(cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("building device %q: %w", cfg.Name, err)
		}
		devices = append(devices, Device{Config: cfg, Adapter: adapter})
	}
	return NewSet(devices)
}

// Lookup finds a device by exact name.
func (s *Set) Lookup(name string) (Device, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Device{}, false
	}
	return s.devices[i], true
}

// All returns the devices in configuration order.
// The returned slice is a copy.
func (s *Set) All() []Device {
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Names returns device names in configuration order.
func (s *Set) Names() []string {
	names := make([]string, len(s.devices))
	for i, d := range s.devices {
		names[i] = d.Name()
	}
	return names
}

// Len returns the number of devices.
func (s *Set) Len() int {
	return len(s.devices)
}
