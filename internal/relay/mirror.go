package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/fieldrelay/internal/device"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/mqtt"
)

// Publisher is the subset of the MQTT client used by the mirror and the
// health reporter.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// ReadingWriter is the subset of the InfluxDB client used by InfluxMirror.
type ReadingWriter interface {
	WriteReading(device, channel string, value float64, ts time.Time)
}

// mirror drains its own queue so a slow local store never holds up the
// poller or the collector relay.
type mirror struct {
	queue  *Queue
	logger *logging.Logger
	write  func(batch device.Batch, at time.Time)
}

func (m *mirror) run(ctx context.Context) error {
	for {
		batch, err := m.queue.Recv(ctx)
		if err != nil {
			return nil
		}
		m.write(batch, time.Now())
	}
}

// MQTTMirror publishes every reading, retained, to
// fieldrelay/{agent}/state/{device}/{channel}.
type MQTTMirror struct {
	mirror
	publisher Publisher
	topics    mqtt.Topics
	qos       byte
}

// mirrorPayload is the retained state message.
type mirrorPayload struct {
	Value     *float64        `json:"value,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewMQTTMirror creates a mirror with its own queue of the given capacity.
func NewMQTTMirror(pub Publisher, topics mqtt.Topics, qos byte, capacity int, logger *logging.Logger) *MQTTMirror {
	if logger == nil {
		logger = logging.Default()
	}
	m := &MQTTMirror{
		publisher: pub,
		topics:    topics,
		qos:       qos,
	}
	m.mirror = mirror{queue: NewQueue(capacity), logger: logger, write: m.publish}
	return m
}

// Queue returns the sink to register with the Poller.
func (m *MQTTMirror) Queue() *Queue {
	return m.queue
}

// Run drains the queue until ctx ends.
func (m *MQTTMirror) Run(ctx context.Context) error {
	return m.run(ctx)
}

func (m *MQTTMirror) publish(batch device.Batch, at time.Time) {
	if !m.publisher.IsConnected() {
		m.logger.Debug("mqtt mirror skipping batch, broker disconnected", "readings", len(batch))
		return
	}

	ts := at.UTC().Format(time.RFC3339)
	for _, r := range batch {
		payload, err := json.Marshal(mirrorPayload{Value: r.Value, Data: r.Data, Timestamp: ts})
		if err != nil {
			m.logger.Warn("mqtt mirror encode failed", "device", r.Device, "channel", r.Channel, "error", err)
			continue
		}
		if err := m.publisher.Publish(m.topics.State(r.Device, r.Channel), payload, m.qos, true); err != nil {
			m.logger.Warn("mqtt mirror publish failed", "device", r.Device, "channel", r.Channel, "error", err)
		}
	}
}

// InfluxMirror writes numeric readings as InfluxDB points. Structured
// readings are skipped.
type InfluxMirror struct {
	mirror
	writer ReadingWriter
}

// NewInfluxMirror creates a mirror with its own queue of the given capacity.
func NewInfluxMirror(w ReadingWriter, capacity int, logger *logging.Logger) *InfluxMirror {
	if logger == nil {
		logger = logging.Default()
	}
	m := &InfluxMirror{writer: w}
	m.mirror = mirror{queue: NewQueue(capacity), logger: logger, write: m.writeBatch}
	return m
}

// Queue returns the sink to register with the Poller.
func (m *InfluxMirror) Queue() *Queue {
	return m.queue
}

// Run drains the queue until ctx ends.
func (m *InfluxMirror) Run(ctx context.Context) error {
	return m.run(ctx)
}

func (m *InfluxMirror) writeBatch(batch device.Batch, at time.Time) {
	for _, r := range batch {
		if v, ok := r.Float(); ok {
			m.writer.WriteReading(r.Device, r.Channel, v, at)
		}
	}
}
