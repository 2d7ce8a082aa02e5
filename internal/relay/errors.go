package relay

import "errors"

// Connection-level errors end the current attempt or session and trigger
// a backoff before the next attempt.
var (
	// ErrTransportConnectFailed is returned when dialling the collector fails.
	ErrTransportConnectFailed = errors.New("relay: transport connect failed")

	// ErrAuthRejected is returned when the collector answers the auth
	// message with anything other than a successful auth reply.
	ErrAuthRejected = errors.New("relay: authentication rejected")

	// ErrAuthTimeout is returned when no auth reply arrives in time.
	ErrAuthTimeout = errors.New("relay: authentication timed out")

	// ErrSendFailed is returned when a frame cannot be written.
	ErrSendFailed = errors.New("relay: send failed")

	// ErrReadFailed is returned when the transport read fails.
	ErrReadFailed = errors.New("relay: read failed")

	// ErrPeerClosed is returned when the collector sends a close frame.
	ErrPeerClosed = errors.New("relay: peer closed connection")
)

// Command and frame errors are logged and absorbed.
var (
	// ErrUnknownDevice is returned for a command naming no configured device.
	ErrUnknownDevice = errors.New("relay: unknown device")

	// ErrUnknownAction is returned for a command with an unsupported action.
	ErrUnknownAction = errors.New("relay: unknown action")

	// ErrMalformedFrame is returned for frames that do not decode.
	ErrMalformedFrame = errors.New("relay: malformed frame")

	// ErrQueueClosed is returned by Queue.Recv once the queue is closed
	// and drained.
	ErrQueueClosed = errors.New("relay: queue closed")
)

// errNotCommand marks a well-formed frame that is not a command.
var errNotCommand = errors.New("relay: not a command")
