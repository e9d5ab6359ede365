//go:build linux

package bluetooth

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Dial connects to the SPP service of the device at address.
//
// Each channel is tried in order; the first that accepts wins. The
// returned stream is non-blocking underneath, so SetDeadline works on it.
// A connect in progress cannot be interrupted; ctx is checked between
// channels.
func (d *RFCOMMDialer) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	addr, err := kernelAddress(address)
	if err != nil {
		return nil, err
	}

	if d.Services != nil {
		ok, err := d.Services.LookupService(ctx, address, SerialPortUUID)
		if err == nil && !ok {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, address)
		}
	}

	var lastErr error
	for _, ch := range d.channels() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := dialChannel(addr, ch, address)
		if err == nil {
			return f, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %s on channels %v: %w", ErrConnectFailed, address, d.channels(), lastErr)
}

func dialChannel(addr [6]byte, channel uint8, address string) (*os.File, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("creating RFCOMM socket: %w", err)
	}

	sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: channel}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("channel %d: %w", channel, err)
	}

	// Non-blocking mode lets os.NewFile register the fd with the runtime
	// poller, which is what makes deadlines and Close-unblocks-Read work.
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("channel %d: setting non-blocking: %w", channel, err)
	}

	return os.NewFile(uintptr(fd), fmt.Sprintf("rfcomm:%s/%d", address, channel)), nil
}
