package devicelink

import "errors"

// Domain errors for the device link package.
var (
	// ErrNotConnected is returned when an operation requires a live
	// transport but none is present.
	ErrNotConnected = errors.New("devicelink: not connected to device-control server")

	// ErrConnectionFailed is returned when dialing the device-control
	// server or completing the handshake fails.
	ErrConnectionFailed = errors.New("devicelink: connection failed")

	// ErrHandshakeTimeout is returned when the server does not answer the
	// handshake within the connect timeout.
	ErrHandshakeTimeout = errors.New("devicelink: handshake timed out")

	// ErrEncodingFailed is returned when an outbound command cannot be
	// encoded to the wire format.
	ErrEncodingFailed = errors.New("devicelink: encoding failed")

	// ErrMalformedMessage is returned when an inbound frame cannot be
	// decoded. Malformed messages are logged and dropped; they do not
	// affect connection state.
	ErrMalformedMessage = errors.New("devicelink: malformed message")

	// ErrSendFailed is returned when writing a command to the transport fails.
	ErrSendFailed = errors.New("devicelink: send failed")
)
