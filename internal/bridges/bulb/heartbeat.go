package bulb

import (
	"context"
	"io"
	"sync"
	"time"
)

// heartbeat is the keepalive worker bound to one stream.
type heartbeat struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// signal asks the worker to exit without waiting for it.
func (h *heartbeat) signal() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// wait signals the worker and blocks until it has exited.
func (h *heartbeat) wait() {
	h.signal()
	<-h.done
}

// startHeartbeat launches the keepalive worker for stream and registers it
// on the connection.
func (c *Connection) startHeartbeat(stream io.ReadWriteCloser) *heartbeat {
	hb := &heartbeat{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.stream != stream {
		c.mu.Unlock()
		close(hb.done)
		return hb
	}
	c.heartbeat = hb
	c.mu.Unlock()

	go c.runHeartbeat(hb, stream)
	return hb
}

// runHeartbeat sends a heartbeat, sleeps, and repeats until stopped or a
// transaction fails. A failed heartbeat has already torn the connection
// down by the time the loop exits.
func (c *Connection) runHeartbeat(hb *heartbeat, stream io.ReadWriteCloser) {
	defer close(hb.done)

	for {
		select {
		case <-hb.stop:
			return
		default:
		}

		if _, err := c.exchange(context.Background(), stream, request{
			function: FuncHeartbeat,
			payload:  heartbeatPayload,
		}); err != nil {
			if !isBenign(err) {
				c.logWarn("heartbeat failed", "address", c.address, "error", err)
			}
			return
		}
		c.heartbeatsTotal.Add(1)

		timer := time.NewTimer(c.heartbeatInterval)
		select {
		case <-hb.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
