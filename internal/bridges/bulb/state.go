package bulb

import "time"

// State is the lifecycle state of a Connection.
type State int

const (
	// StateDisconnected means no transport is open. Cached device state is
	// cleared.
	StateDisconnected State = iota

	// StateConnecting means the transport is open and the handshake is
	// running.
	StateConnecting

	// StateReady means the handshake completed and control operations are
	// accepted.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Power is the cached power state. PowerUnknown means the bulb has not been
// told a power state since the last connect.
type Power int

const (
	PowerUnknown Power = iota
	PowerOn
	PowerOff
)

func powerFrom(on bool) Power {
	if on {
		return PowerOn
	}
	return PowerOff
}

func (p Power) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// ColorMode is the cached operating mode.
type ColorMode int

const (
	ModeUnknown ColorMode = iota
	ModeWhite
	ModeColor
)

func modeFrom(color bool) ColorMode {
	if color {
		return ModeColor
	}
	return ModeWhite
}

func (m ColorMode) String() string {
	switch m {
	case ModeWhite:
		return "white"
	case ModeColor:
		return "color"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of a connection's cached state.
//
// Brightness and Color are only meaningful when Mode is not ModeUnknown;
// they are read together so a reader never sees a brightness paired with
// another command's base colour.
type Snapshot struct {
	Address    string    `json:"address"`
	Name       string    `json:"name,omitempty"`
	State      State     `json:"-"`
	Power      Power     `json:"-"`
	Mode       ColorMode `json:"-"`
	Brightness int       `json:"brightness"`
	Color      RGB       `json:"color"`
}

// Ready reports whether the snapshot was taken while the connection was
// ready.
func (s Snapshot) Ready() bool {
	return s.State == StateReady
}

// ConnectionStats holds operational statistics for one bulb.
type ConnectionStats struct {
	TransactionsTotal uint64
	HeartbeatsTotal   uint64
	ErrorsTotal       uint64
	ConnectsTotal     uint64 // Successful handshakes
	LastActivity      time.Time
	ConnectedSince    time.Time // Zero unless ready
	State             State
}
