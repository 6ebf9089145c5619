package transport

import "errors"

var (
	// ErrConfigNil indicates that a nil Config was provided.
	ErrConfigNil = errors.New("transport: config is nil")

	// ErrConnection indicates that the session could not be established, because the
	// controller refused the connection or the connection timeout elapsed.
	ErrConnection = errors.New("transport: cannot connect to controller")

	// ErrConnectionLost indicates that an established connection dropped.
	ErrConnectionLost = errors.New("transport: connection lost")

	// ErrWriteTimeout indicates that a request could not be written within the write timeout.
	ErrWriteTimeout = errors.New("transport: write timeout")

	// ErrReadTimeout indicates that no reply line arrived within the read timeout.
	ErrReadTimeout = errors.New("transport: read timeout")

	// ErrNotConnected is returned by I/O operations when the session is not connected.
	ErrNotConnected = errors.New("transport: session not connected")

	// ErrSessionFaulted is returned by every operation but Disconnect and Reset once the
	// session is faulted.
	ErrSessionFaulted = errors.New("transport: session faulted, reset required")
)

// ErrInvalidTransition is returned when an attempt is made to transition the session
// state to an invalid state.
var ErrInvalidTransition = errors.New("transport: invalid state transition")
