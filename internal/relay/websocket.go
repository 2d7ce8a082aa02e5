package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second

	// frameBuffer bounds frames read ahead of the consumer.
	frameBuffer = 16
)

// WebSocketDialer dials the collector over WebSocket.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
}

// Dial opens a WebSocket connection to url.
//
// Returns:
//   - Transport: Open connection; the caller owns it and must Close it
//   - error: ErrTransportConnectFailed wrapping the dial error
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // handshake response body is unused
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTransportConnectFailed, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransportConnectFailed, err)
	}

	return newWSTransport(conn, d.WriteTimeout), nil
}

// wsTransport adapts a gorilla connection to Transport. A single reader
// goroutine owns conn reads and surfaces control frames as Frames so the
// session can answer pings itself.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex

	frames    chan Frame
	readErr   error // written before frames is closed
	done      chan struct{}
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	t := &wsTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		frames:       make(chan Frame, frameBuffer),
		done:         make(chan struct{}),
	}

	conn.SetPingHandler(func(appData string) error {
		t.push(Frame{Type: FramePing, Payload: []byte(appData)})
		return nil
	})
	conn.SetPongHandler(func(appData string) error {
		t.push(Frame{Type: FramePong, Payload: []byte(appData)})
		return nil
	})

	go t.readLoop()
	return t
}

func (t *wsTransport) readLoop() {
	defer close(t.frames)

	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				t.push(Frame{Type: FrameClose, Payload: websocket.FormatCloseMessage(closeErr.Code, closeErr.Text)})
			}
			t.readErr = err
			return
		}

		ft := FrameText
		if mt == websocket.BinaryMessage {
			ft = FrameBinary
		}
		if !t.push(Frame{Type: ft, Payload: data}) {
			return
		}
	}
}

func (t *wsTransport) push(f Frame) bool {
	select {
	case t.frames <- f:
		return true
	case <-t.done:
		return false
	}
}

// ReadFrame returns the next frame, including ping, pong and close.
func (t *wsTransport) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-t.frames:
		if !ok {
			if t.readErr != nil {
				return Frame{}, t.readErr
			}
			return Frame{}, io.EOF
		}
		return f, nil
	case <-t.done:
		return Frame{}, net.ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// WriteFrame writes one frame. Data frames are serialised by writeMu;
// control frames go through WriteControl, which gorilla allows concurrently.
func (t *wsTransport) WriteFrame(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	switch f.Type {
	case FramePing:
		return t.conn.WriteControl(websocket.PingMessage, f.Payload, deadline)
	case FramePong:
		return t.conn.WriteControl(websocket.PongMessage, f.Payload, deadline)
	case FrameClose:
		payload := f.Payload
		if len(payload) == 0 {
			payload = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		}
		return t.conn.WriteControl(websocket.CloseMessage, payload, deadline)
	case FrameText, FrameBinary:
		mt := websocket.TextMessage
		if f.Type == FrameBinary {
			mt = websocket.BinaryMessage
		}

		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return t.conn.WriteMessage(mt, f.Payload)
	default:
		return fmt.Errorf("unsupported frame type %d", f.Type)
	}
}

// Close tears down the connection and stops the reader. Idempotent.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
