package telemetry

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry is turned off in
	// the configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected is returned for operations on a closed client.
	ErrNotConnected = errors.New("telemetry: not connected")
)
