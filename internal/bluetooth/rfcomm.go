package bluetooth

import "context"

// defaultRFCOMMChannels are probed in order when no channel list is
// configured. SPP firmwares almost always listen on channel 1.
var defaultRFCOMMChannels = []uint8{1, 2, 3, 4, 5}

// ServiceLocator answers whether a device advertises a service class.
// *BlueZ implements it.
type ServiceLocator interface {
	LookupService(ctx context.Context, address, uuid string) (bool, error)
}

// RFCOMMDialer opens RFCOMM sockets to bulbs.
//
// When Services is set, the device must advertise the Serial Port Profile
// before any channel is probed. A failed lookup (BlueZ has no cached
// record yet) does not block the attempt.
type RFCOMMDialer struct {
	Channels []uint8
	Services ServiceLocator
}

// NewRFCOMMDialer returns a dialer probing channels, or channels 1-5 when
// none are given.
func NewRFCOMMDialer(channels []uint8, services ServiceLocator) *RFCOMMDialer {
	if len(channels) == 0 {
		channels = defaultRFCOMMChannels
	}
	return &RFCOMMDialer{Channels: channels, Services: services}
}

func (d *RFCOMMDialer) channels() []uint8 {
	if len(d.Channels) == 0 {
		return defaultRFCOMMChannels
	}
	return d.Channels
}
