package bluetooth

import (
	"fmt"
	"net"
	"strings"
)

// SerialPortUUID is the Serial Port Profile service class.
const SerialPortUUID = "00001101-0000-1000-8000-00805f9b34fb"

// NormalizeAddress validates a colon-separated Bluetooth address and
// returns it in uppercase.
func NormalizeAddress(address string) (string, error) {
	hw, err := net.ParseMAC(address)
	if err != nil || len(hw) != 6 || strings.Count(address, ":") != 5 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToUpper(hw.String()), nil
}

// kernelAddress converts an address to the byte order the Linux kernel
// uses in sockaddr_rc (least significant byte first).
func kernelAddress(address string) ([6]byte, error) {
	var b [6]byte
	hw, err := net.ParseMAC(address)
	if err != nil || len(hw) != 6 {
		return b, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	for i := range 6 {
		b[i] = hw[5-i]
	}
	return b, nil
}

// HasPrefix reports whether address starts with prefix, ignoring case.
func HasPrefix(address, prefix string) bool {
	return len(address) >= len(prefix) && strings.EqualFold(address[:len(prefix)], prefix)
}

// MatchesAny reports whether address starts with any of prefixes. An
// empty prefix list matches nothing.
func MatchesAny(address string, prefixes []string) bool {
	for _, p := range prefixes {
		if HasPrefix(address, p) {
			return true
		}
	}
	return false
}
