package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementBulbState = "bulb_state"
	MeasurementBulbEvent = "bulb_events"
)

// WriteBulbState records one state sample for a bulb.
//
// fields is the flat state map published on MQTT (connection, power,
// brightness, color and so on). The address becomes the only tag, keeping
// series cardinality at one per bulb.
//
// Example:
//
//	client.WriteBulbState("C9:A3:05:11:22:33", map[string]any{"on": true, "brightness": 8})
func (c *Client) WriteBulbState(address string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	c.writePoint(bulbStatePoint(address, fields, time.Now()))
}

// WriteBulbEvent records a registry event ("added", "removed") for a bulb.
func (c *Client) WriteBulbEvent(address, event string) {
	c.writePoint(bulbEventPoint(address, event, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(point *write.Point) {
	if !c.IsConnected() || c.writeAPI == nil {
		return
	}
	c.writeAPI.WritePoint(point)
}

func bulbStatePoint(address string, fields map[string]any, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBulbState,
		map[string]string{"address": address},
		fields,
		ts,
	)
}

func bulbEventPoint(address, event string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBulbEvent,
		map[string]string{
			"address": address,
			"event":   event,
		},
		map[string]any{"count": 1},
		ts,
	)
}
