package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// S88 serial line settings.
const (
	s88BaudRate     = 9600
	s88ResponseSize = 7
	s88SettleDelay  = 500 * time.Millisecond
	s88ReadTimeout  = 2 * time.Second

	// ChannelCO2 is the S88 concentration channel, in ppm.
	ChannelCO2 = "co2"
)

// s88ReadCO2 requests the CO2 register.
var s88ReadCO2 = []byte{0xFE, 0x44, 0x00, 0x08, 0x02, 0x9F, 0x25}

var errShortRead = errors.New("short read from sensor")

// PortOpener opens a serial line by device path.
type PortOpener func(name string) (io.ReadWriteCloser, error)

// S88Sensor reads CO2 concentration from an S88 sensor on a serial line.
// The port is opened per reading so a replugged adapter recovers on the next tick.
type S88Sensor struct {
	name   string
	port   string
	open   PortOpener
	settle time.Duration
}

// NewS88Sensor creates a sensor adapter for the serial device at port.
// A nil opener uses the system serial driver.
func NewS88Sensor(name, port string, open PortOpener) *S88Sensor {
	if open == nil {
		open = openSerialPort
	}
	return &S88Sensor{name: name, port: port, open: open, settle: s88SettleDelay}
}

// GetReadings performs one request/response exchange and reports co2.
func (s *S88Sensor) GetReadings(ctx context.Context) ([]Reading, error) {
	ppm, err := s.ReadCO2(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceQueryFailed, s.name, err)
	}
	return []Reading{NumberReading(s.name, ChannelCO2, float64(ppm))}, nil
}

// SetState is not supported by a sensor.
func (s *S88Sensor) SetState(context.Context, bool) error {
	return fmt.Errorf("%w: %s is a sensor", ErrActionUnsupported, s.name)
}

// ReadCO2 returns the current concentration in ppm.
func (s *S88Sensor) ReadCO2(ctx context.Context) (int, error) {
	port, err := s.open(s.port)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", s.port, err)
	}
	defer port.Close() //nolint:errcheck // read-only exchange

	if _, err := port.Write(s88ReadCO2); err != nil {
		return 0, fmt.Errorf("writing request: %w", err)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(s.settle):
	}

	buf := make([]byte, s88ResponseSize)
	if _, err := readFrame(port, buf); err != nil {
		return 0, fmt.Errorf("reading response: %w", err)
	}
	return parseS88Response(buf)
}

// readFrame fills buf. A zero-byte read means the port timed out.
func readFrame(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if errors.Is(err, io.EOF) && n < len(buf) {
				return n, fmt.Errorf("%w: got %d of %d bytes", errShortRead, n, len(buf))
			}
			return n, err
		}
		if m == 0 {
			return n, fmt.Errorf("%w: got %d of %d bytes", errShortRead, n, len(buf))
		}
	}
	return n, nil
}

// parseS88Response validates the header and decodes the big-endian value.
func parseS88Response(frame []byte) (int, error) {
	if len(frame) < s88ResponseSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(frame))
	}
	if frame[0] != 0xFE || frame[1] != 0x44 {
		return 0, fmt.Errorf("%w: header % X", ErrInvalidFrame, frame[:2])
	}
	return int(frame[3])<<8 | int(frame[4]), nil
}

// openSerialPort opens the line at 9600 8N1 with a read timeout.
func openSerialPort(name string) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: s88BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(s88ReadTimeout); err != nil {
		port.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("flushing input: %w", err)
	}
	return port, nil
}
