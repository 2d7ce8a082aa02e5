package relay

// ConnectionState is the collector connection lifecycle stage.
type ConnectionState int32

// Connection states, advanced only by the Supervisor.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
)

// String returns the lower-case state name used in logs and the API.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateObserver is notified of every state change. reason is nil except
// on a transition to Disconnected caused by an error.
//
// Observers run on the Supervisor goroutine and must not block.
type StateObserver func(from, to ConnectionState, reason error)
