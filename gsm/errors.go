package gsm

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNoDriver is returned when a Modem is constructed without a Driver.
	//
	// The Driver supplies the chipset-specific command sequences; the core
	// cannot operate a modem without one.
	ErrNoDriver = errors.New("no driver configured")

	// ErrInvalidTimeout is returned when a Config carries a negative timeout.
	ErrInvalidTimeout = errors.New("timeout must not be negative")

	// ErrAlreadyClosed is returned when an operation is attempted on a Modem
	// that has already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrNoFreeSockets is returned by CreateSocket when every socket slot is
	// occupied.
	//
	// Slots are reclaimed asynchronously after a socket is released and the
	// modem confirms the close, so retrying after a short wait may succeed.
	ErrNoFreeSockets = errors.New("no free socket slots")

	// ErrSocketClosed is returned when an operation is attempted on a socket
	// that has been closed, either locally or by the peer.
	ErrSocketClosed = errors.New("socket closed")

	// ErrTimeout is returned when a socket operation does not complete
	// within its configured window.
	ErrTimeout = errors.New("operation timed out")

	// ErrLineTooLong is reported when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error. The offending line is discarded.
	ErrLineTooLong = errors.New("response line too long")
)
