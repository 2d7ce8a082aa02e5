package relay

import "context"

// FrameType identifies a transport frame.
type FrameType int

// Frame types carried by the transport.
const (
	FrameText FrameType = iota + 1
	FrameBinary
	FramePing
	FramePong
	FrameClose
)

// String returns the frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one message on the collector connection, data or control.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Transport is a full-duplex frame connection to the collector.
//
// ReadFrame must not be called concurrently with itself; WriteFrame must be
// safe for concurrent use. Close unblocks any pending ReadFrame.
type Transport interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
}

// Dialer opens a Transport to a collector URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}
