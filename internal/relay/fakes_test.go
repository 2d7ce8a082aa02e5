package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fieldrelay/internal/audit"
	"github.com/nerrad567/fieldrelay/internal/device"
)

var errBoom = errors.New("boom")

// fakeTransport is an in-memory Transport. Tests push inbound frames and
// observe outbound ones on the written channel.
type fakeTransport struct {
	inbound  chan Frame
	readErrs chan error
	written  chan Frame

	mu       sync.Mutex
	frames   []Frame
	writeErr error
	onWrite  func(t *fakeTransport, f Frame)

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan Frame, 16),
		readErrs: make(chan error, 1),
		written:  make(chan Frame, 64),
		closed:   make(chan struct{}),
	}
}

func (t *fakeTransport) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f := <-t.inbound:
		return f, nil
	case err := <-t.readErrs:
		return Frame{}, err
	case <-t.closed:
		return Frame{}, net.ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (t *fakeTransport) WriteFrame(_ context.Context, f Frame) error {
	t.mu.Lock()
	if t.writeErr != nil {
		err := t.writeErr
		t.mu.Unlock()
		return err
	}
	t.frames = append(t.frames, f)
	hook := t.onWrite
	t.mu.Unlock()

	select {
	case t.written <- f:
	default:
	}
	if hook != nil {
		hook(t, f)
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) setWriteErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

func (t *fakeTransport) writtenFrames() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Frame(nil), t.frames...)
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// autoAck replies to the auth frame with the given response.
func autoAck(reply string) func(t *fakeTransport, f Frame) {
	return func(t *fakeTransport, f Frame) {
		if f.Type == FrameText && isAuthFrame(f.Payload) {
			t.inbound <- Frame{Type: FrameText, Payload: []byte(reply)}
		}
	}
}

const ackOK = `{"type":"auth","success":true}`

func isAuthFrame(payload []byte) bool {
	return len(payload) > 14 && string(payload[:14]) == `{"type":"auth"`
}

// fakeDialer returns scripted results in order. Once the script runs out
// it fails every dial.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

type dialResult struct {
	transport *fakeTransport
	err       error
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if len(d.results) == 0 {
		return nil, errBoom
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.transport, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// mockAdapter records SetState calls and returns scripted readings.
type mockAdapter struct {
	mu       sync.Mutex
	readings []device.Reading
	readErr  error
	setErr   error
	setCalls []bool
	panicSet bool
}

func (m *mockAdapter) GetReadings(_ context.Context) ([]device.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return append([]device.Reading(nil), m.readings...), nil
}

func (m *mockAdapter) SetState(_ context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicSet {
		panic("relay board fault")
	}
	m.setCalls = append(m.setCalls, on)
	return m.setErr
}

func (m *mockAdapter) calls() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.setCalls...)
}

func newTestSet(t testing.TB, adapters map[string]*mockAdapter, order ...string) *device.Set {
	t.Helper()
	devices := make([]device.Device, 0, len(order))
	for _, name := range order {
		d := device.Device{Adapter: adapters[name]}
		d.Config.Name = name
		d.Config.Type = "SIM"
		devices = append(devices, d)
	}
	set, err := device.NewSet(devices)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	return set
}

// controllerAdapter adds port and countdown capabilities to mockAdapter.
type controllerAdapter struct {
	mockAdapter
	portCalls      []string
	countdownCalls []string
}

func (c *controllerAdapter) SetPortLevel(_ context.Context, port string, level int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.portCalls = append(c.portCalls, fmt.Sprintf("%s=%d", port, level))
	return c.setErr
}

func (c *controllerAdapter) SetCountdown(_ context.Context, delay time.Duration, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countdownCalls = append(c.countdownCalls, fmt.Sprintf("%s->%v", delay, on))
	return c.setErr
}

func (c *controllerAdapter) recorded() (ports, countdowns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.portCalls...), append([]string(nil), c.countdownCalls...)
}

func testDevice(name, deviceType string, a device.Adapter) device.Device {
	d := device.Device{Adapter: a}
	d.Config.Name = name
	d.Config.Type = deviceType
	return d
}

// recordingHandler captures dispatched commands.
type recordingHandler struct {
	mu   sync.Mutex
	cmds []Command
	got  chan Command
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan Command, 16)}
}

func (h *recordingHandler) Dispatch(_ context.Context, cmd Command) error {
	h.mu.Lock()
	h.cmds = append(h.cmds, cmd)
	h.mu.Unlock()
	h.got <- cmd
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cmds)
}

// memoryAudit is an in-memory audit store.
type memoryAudit struct {
	mu       sync.Mutex
	commands []audit.CommandEntry
	events   []audit.ConnectionEvent
	err      error
}

func (m *memoryAudit) RecordCommand(_ context.Context, e *audit.CommandEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, *e)
	return m.err
}

func (m *memoryAudit) RecordConnectionEvent(_ context.Context, e *audit.ConnectionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return m.err
}

func (m *memoryAudit) commandEntries() []audit.CommandEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.CommandEntry(nil), m.commands...)
}

func (m *memoryAudit) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// fakePublisher records MQTT publishes.
type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedMessage{topic, payload, qos, retained})
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) messages() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.published...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func numberBatch(dev, channel string, v float64) device.Batch {
	return device.Batch{device.NumberReading(dev, channel, v)}
}
