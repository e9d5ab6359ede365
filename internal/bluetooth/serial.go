package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Serial defaults.
const (
	defaultSerialBaud        = 9600
	defaultSerialReadTimeout = time.Second
)

// SerialDialer opens bulbs through serial device nodes, typically
// /dev/rfcommN bound with rfcomm(1).
//
// Reads poll with ReadTimeout so that closing the port or passing a
// deadline releases a pending read within one timeout. A poll that times
// out with no data is retried, so slow replies do not end the stream.
type SerialDialer struct {
	// Ports maps bulb address to device node.
	Ports       map[string]string
	Baud        int
	ReadTimeout time.Duration
}

// NewSerialDialer returns a dialer for the given address→device map. The
// map keys are normalised to uppercase.
func NewSerialDialer(ports map[string]string, baud int, readTimeout time.Duration) *SerialDialer {
	if baud <= 0 {
		baud = defaultSerialBaud
	}
	if readTimeout <= 0 {
		readTimeout = defaultSerialReadTimeout
	}
	normalised := make(map[string]string, len(ports))
	for addr, dev := range ports {
		normalised[strings.ToUpper(addr)] = dev
	}
	return &SerialDialer{Ports: normalised, Baud: baud, ReadTimeout: readTimeout}
}

// Dial opens the serial port configured for address.
func (d *SerialDialer) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device, ok := d.Ports[strings.ToUpper(address)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSerialPort, address)
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        d.Baud,
		ReadTimeout: d.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s for %s: %w", ErrConnectFailed, device, address, err)
	}
	return newSerialStream(port), nil
}

// Addresses returns the bulb addresses that have a configured port.
func (d *SerialDialer) Addresses() []string {
	out := make([]string, 0, len(d.Ports))
	for addr := range d.Ports {
		out = append(out, addr)
	}
	return out
}

// serialStream hides the (0, io.EOF) reads tarm/serial returns when a
// ReadTimeout poll expires with no data.
type serialStream struct {
	port io.ReadWriteCloser

	mu       sync.Mutex
	deadline time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

func newSerialStream(port io.ReadWriteCloser) *serialStream {
	return &serialStream{port: port, closed: make(chan struct{})}
}

// Read blocks until data arrives, the port fails, the deadline passes or
// the stream is closed.
func (s *serialStream) Read(p []byte) (int, error) {
	for {
		n, err := s.port.Read(p)
		if n > 0 || !errors.Is(err, io.EOF) {
			return n, err
		}

		select {
		case <-s.closed:
			return 0, os.ErrClosed
		default:
		}

		s.mu.Lock()
		deadline := s.deadline
		s.mu.Unlock()
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, os.ErrDeadlineExceeded
		}
	}
}

func (s *serialStream) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, os.ErrClosed
	default:
	}
	return s.port.Write(p)
}

// SetDeadline bounds pending and future reads. Writes on a TTY do not
// block on the bulb and ignore it.
func (s *serialStream) SetDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return nil
}

func (s *serialStream) Close() error {
	err := os.ErrClosed
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.port.Close()
	})
	return err
}
