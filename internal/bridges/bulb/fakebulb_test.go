package bulb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// sentFrame is one request received by the fake bulb.
type sentFrame struct {
	function byte
	payload  []byte
}

// fakeBulb emulates the firmware on the far end of a net.Pipe.
type fakeBulb struct {
	mu         sync.Mutex
	mode       byte // 0x01 white, 0x02 colour
	brightness byte
	color      RGB
	handshake  []byte
	frames     []sentFrame

	// hangOn makes the bulb stop answering once it receives this
	// function code (0 disables).
	hangOn byte
	// dropOn closes the link when this status op is received.
	dropOn    byte
	dropOnSet bool
	// truncateAt makes a drop send the first truncateAt bytes of the
	// reply before closing (0 sends nothing).
	truncateAt int
	// echo overrides the function code in responses (0 echoes).
	echo byte

	conns []net.Conn
}

func newFakeBulb() *fakeBulb {
	return &fakeBulb{mode: groupWhite, brightness: 10}
}

// Dial implements Dialer.
func (b *fakeBulb) Dial(_ context.Context, _ string) (io.ReadWriteCloser, error) {
	client, server := net.Pipe()
	b.mu.Lock()
	b.conns = append(b.conns, server)
	b.mu.Unlock()
	go b.serve(server)
	return client, nil
}

func (b *fakeBulb) serve(conn net.Conn) {
	defer conn.Close()

	magic := make([]byte, len(handshakeMagic))
	if _, err := io.ReadFull(conn, magic); err != nil {
		return
	}
	b.mu.Lock()
	b.handshake = magic
	b.mu.Unlock()

	for {
		req, err := ReadFrame(conn)
		if err != nil || req.Marker != markerRequest {
			return
		}
		function, payload := req.Function, req.Payload

		b.mu.Lock()
		b.frames = append(b.frames, sentFrame{function: function, payload: payload})
		hang := b.hangOn != 0 && b.hangOn == function
		drop := b.dropOnSet && function == FuncStatus && len(payload) > 13 && payload[13] == b.dropOn
		reply := b.replyLocked(function, payload)
		echo := function
		if b.echo != 0 {
			echo = b.echo
		}
		truncateAt := b.truncateAt
		b.mu.Unlock()

		if hang {
			_, _ = io.Copy(io.Discard, conn)
			return
		}

		frame := append([]byte{0x01, 0xFE, 0x00, 0x00, markerResponse, echo, byte(len(reply) + frameOverhead)}, reply...)
		if drop {
			if truncateAt > 0 {
				_, _ = conn.Write(frame[:min(truncateAt, len(frame))])
			}
			return
		}
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

// replyLocked builds the response payload and applies writes to the
// emulated state.
func (b *fakeBulb) replyLocked(function byte, payload []byte) []byte {
	switch function {
	case FuncIdentification:
		return []byte("SPP-BULB")
	case FuncVendorInfo:
		return []byte{0x10, 0x20}
	case FuncHeartbeat:
		return []byte{0x00}
	}

	if len(payload) < 14 {
		return nil
	}
	group, op := payload[11], payload[13]

	switch op {
	case opRead:
		resp := make([]byte, statusColorResponseLen)
		if group == groupWhite {
			resp[statusModeOffset] = b.mode
			resp[statusBrightnessOffset] = b.brightness
			return resp[:statusModeResponseLen]
		}
		resp[statusColorOffset] = b.color.R
		resp[statusColorOffset+1] = b.color.G
		resp[statusColorOffset+2] = b.color.B
		return resp
	case opBrightness:
		b.brightness = payload[14]
	case opColor:
		b.mode = groupColor
		b.color = RGB{R: payload[14], G: payload[15], B: payload[16]}
	case opPowerMode:
		b.mode = group
	}
	return []byte{0x00}
}

// statusWrites returns the 0x81 requests other than status reads.
func (b *fakeBulb) statusWrites() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, f := range b.frames {
		if f.function == FuncStatus && f.payload[13] != opRead {
			out = append(out, f.payload)
		}
	}
	return out
}

func (b *fakeBulb) count(function byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, f := range b.frames {
		if f.function == function {
			n++
		}
	}
	return n
}

func (b *fakeBulb) handshakeBytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.handshake)
}

// failingDialer refuses every dial.
type failingDialer struct{ err error }

func (d failingDialer) Dial(context.Context, string) (io.ReadWriteCloser, error) {
	return nil, d.err
}

var errNoRoute = errors.New("no route to device")

// testLogger records log calls.
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) record(msg string) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
}

func (l *testLogger) Debug(msg string, _ ...any) { l.record(msg) }
func (l *testLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *testLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *testLogger) Error(msg string, _ ...any) { l.record(msg) }

func (l *testLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == msg {
			return true
		}
	}
	return false
}

// connectFake returns a ready connection to bulb. The heartbeat interval
// is long so frame counts stay predictable.
func connectFake(t *testing.T, bulb *fakeBulb) *Connection {
	t.Helper()
	conn := NewConnection("c9:a3:05:11:22:33", "test bulb", bulb, ConnectionOptions{
		HeartbeatInterval: time.Hour,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
