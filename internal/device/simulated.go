package device

import (
	"context"
	"math"
	"sync"
	"time"
)

// Simulated plug parameters.
const (
	simBaseLoadWatts = 42.0
	simRippleWatts   = 3.5
)

// Simulated is an in-memory plug for bench runs without hardware.
// Power follows a slow sine ripple while the plug is on.
type Simulated struct {
	name string

	mu      sync.Mutex
	on      bool
	started time.Time
	now     func() time.Time
}

// NewSimulated creates a simulated plug, initially on.
func NewSimulated(name string) *Simulated {
	return &Simulated{name: name, on: true, started: time.Now(), now: time.Now}
}

// GetReadings reports state and power.
func (s *Simulated) GetReadings(context.Context) ([]Reading, error) {
	s.mu.Lock()
	on := s.on
	elapsed := s.now().Sub(s.started).Seconds()
	s.mu.Unlock()

	power := 0.0
	if on {
		power = simBaseLoadWatts + simRippleWatts*math.Sin(elapsed/60)
	}
	return []Reading{
		NumberReading(s.name, ChannelState, boolValue(on)),
		NumberReading(s.name, ChannelPower, power),
	}, nil
}

// SetState switches the simulated relay.
func (s *Simulated) SetState(_ context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = on
	return nil
}

// On reports the current simulated state.
func (s *Simulated) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}
