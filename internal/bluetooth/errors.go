package bluetooth

import "errors"

// Domain errors for the bluetooth package.
var (
	// ErrInvalidAddress is returned when an address is not a 48-bit MAC.
	ErrInvalidAddress = errors.New("bluetooth: invalid device address")

	// ErrAdapterUnavailable is returned when the adapter is missing or
	// not powered.
	ErrAdapterUnavailable = errors.New("bluetooth: adapter unavailable")

	// ErrServiceNotFound is returned when the device does not advertise
	// the Serial Port Profile.
	ErrServiceNotFound = errors.New("bluetooth: SPP service not found")

	// ErrConnectFailed is returned when no RFCOMM channel accepted the
	// connection.
	ErrConnectFailed = errors.New("bluetooth: connect failed")

	// ErrNoSerialPort is returned when no serial device is configured for
	// an address.
	ErrNoSerialPort = errors.New("bluetooth: no serial port for device")

	// ErrUnsupported is returned by RFCOMM dialing on platforms without
	// AF_BLUETOOTH sockets.
	ErrUnsupported = errors.New("bluetooth: RFCOMM sockets unsupported on this platform")
)
