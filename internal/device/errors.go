package device

import "errors"

// Domain errors for the device package.
//
// Check with errors.Is:
//
//	if errors.Is(err, device.ErrDeviceQueryFailed) {
//	    // device contributed no readings this tick
//	}
var (
	// ErrDeviceQueryFailed is returned when a device produced no readings at all.
	ErrDeviceQueryFailed = errors.New("device: query failed")

	// ErrDeviceActionFailed is returned when a state change could not be applied.
	ErrDeviceActionFailed = errors.New("device: action failed")

	// ErrActionUnsupported is returned by adapters that cannot change state.
	ErrActionUnsupported = errors.New("device: action not supported")

	// ErrUnsupportedType is returned when a configured type has no adapter.
	ErrUnsupportedType = errors.New("device: unsupported type")

	// ErrDuplicateName is returned when two devices share a name.
	ErrDuplicateName = errors.New("device: duplicate name")

	// ErrInvalidReading is returned when a reading does not carry exactly one of value or data.
	ErrInvalidReading = errors.New("device: invalid reading")

	// ErrInvalidFrame is returned when a sensor response fails its header check.
	ErrInvalidFrame = errors.New("device: invalid sensor frame")

	// ErrPlugRequest is returned when the plug rejects a method call.
	ErrPlugRequest = errors.New("device: plug request failed")

	// ErrACInfinityRequest is returned when the AC Infinity cloud rejects a request.
	ErrACInfinityRequest = errors.New("device: ac infinity request failed")

	// ErrACInfinityAuth is returned when the AC Infinity login is refused.
	ErrACInfinityAuth = errors.New("device: ac infinity authentication failed")

	// ErrUnknownPort is returned when a port selector matches no controller output.
	ErrUnknownPort = errors.New("device: unknown port")
)
