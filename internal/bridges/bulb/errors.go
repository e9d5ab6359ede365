package bulb

import "errors"

// Domain errors for the bulb package.
//
// Callers distinguish failure classes with errors.Is. Wrapped errors keep
// the underlying cause (dial error, I/O error, context error) in the chain.
var (
	// ErrConnection is returned when the transport cannot be opened or the
	// handshake fails. The connection is left disconnected.
	ErrConnection = errors.New("bulb: connection failed")

	// ErrProtocol is returned when a transaction fails mid-flight. The
	// connection is torn down before the error is returned.
	ErrProtocol = errors.New("bulb: protocol error")

	// ErrPrecondition is returned when a control operation is attempted on
	// a connection that is not ready.
	ErrPrecondition = errors.New("bulb: connection not ready")

	// ErrInvalidArgument is returned when a parameter is outside its
	// accepted range (brightness, party mode).
	ErrInvalidArgument = errors.New("bulb: invalid argument")

	// ErrInvalidFrame is returned when a response frame has a bad magic
	// prefix, a bad direction marker, or a length below the frame overhead.
	ErrInvalidFrame = errors.New("bulb: invalid frame")

	// ErrPayloadTooLarge is returned when a request payload does not fit in
	// the one-byte frame length field.
	ErrPayloadTooLarge = errors.New("bulb: payload too large")

	// ErrScanFailed is returned by Manager.Err when the scanner reported an
	// error and the discovery loop stopped.
	ErrScanFailed = errors.New("bulb: device scan failed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bulb: already started")
)
