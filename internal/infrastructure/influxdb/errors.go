package influxdb

import "errors"

// Domain-specific errors for InfluxDB operations.
var (
	// ErrNotConnected is returned when the client has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps asynchronous batch write failures.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned by Connect when the section is disabled.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
