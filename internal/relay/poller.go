package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fieldrelay/internal/device"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

// Poller reads every device once per interval and offers the resulting
// batch to its sinks.
type Poller struct {
	devices  []device.Device
	interval time.Duration
	logger   *logging.Logger

	sinksMu sync.RWMutex
	sinks   []namedSink

	ticks          atomic.Uint64
	batches        atomic.Uint64
	emptyTicks     atomic.Uint64
	deviceFailures atomic.Uint64
}

type namedSink struct {
	name string
	sink BatchSink
}

// PollerStats is a snapshot of poller counters.
type PollerStats struct {
	Ticks          uint64 `json:"ticks"`
	Batches        uint64 `json:"batches"`
	EmptyTicks     uint64 `json:"empty_ticks"`
	DeviceFailures uint64 `json:"device_failures"`
}

// NewPoller creates a poller over the device set in configuration order.
func NewPoller(devices *device.Set, interval time.Duration, logger *logging.Logger) *Poller {
	if logger == nil {
		logger = logging.Default()
	}
	var all []device.Device
	if devices != nil {
		all = devices.All()
	}
	return &Poller{
		devices:  all,
		interval: interval,
		logger:   logger,
	}
}

// AddSink registers a sink. Sinks are offered batches in registration
// order; the relay queue is added first.
func (p *Poller) AddSink(name string, sink BatchSink) {
	p.sinksMu.Lock()
	defer p.sinksMu.Unlock()
	p.sinks = append(p.sinks, namedSink{name: name, sink: sink})
}

// Run polls immediately and then once per interval until ctx ends.
//
// Ticks are scheduled from the start time, so a poll that overruns the
// interval delays the next one without skipping it.
func (p *Poller) Run(ctx context.Context) error {
	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		p.PollOnce(ctx)

		next = next.Add(p.interval)
		timer.Reset(max(time.Until(next), 0))
	}
}

// PollOnce performs one tick: query each device in order, then offer the
// batch to every sink. An empty batch is not offered.
//
// Returns:
//   - device.Batch: The collected readings, nil if none
func (p *Poller) PollOnce(ctx context.Context) device.Batch {
	p.ticks.Add(1)
	start := time.Now()

	var batch device.Batch
	for _, dev := range p.devices {
		if ctx.Err() != nil {
			return nil
		}

		readings, err := dev.Adapter.GetReadings(ctx)
		if err != nil {
			p.deviceFailures.Add(1)
			p.logger.Warn("device poll failed",
				"device", dev.Name(),
				"type", dev.Config.Type,
				"error", err,
			)
			continue
		}
		batch = append(batch, readings...)
	}

	if len(batch) == 0 {
		p.emptyTicks.Add(1)
		p.logger.Debug("poll produced no readings")
		return nil
	}

	p.batches.Add(1)
	p.emit(batch)
	p.logger.Debug("poll complete",
		"readings", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return batch
}

func (p *Poller) emit(batch device.Batch) {
	p.sinksMu.RLock()
	defer p.sinksMu.RUnlock()

	for _, s := range p.sinks {
		if !s.sink.TrySend(batch) {
			p.logger.Warn("sink full, batch dropped", "sink", s.name, "readings", len(batch))
		}
	}
}

// Stats returns the poller counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Ticks:          p.ticks.Load(),
		Batches:        p.batches.Load(),
		EmptyTicks:     p.emptyTicks.Load(),
		DeviceFailures: p.deviceFailures.Load(),
	}
}
