package bulb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports per-bulb state and counters. Values are read
// from the registry on every scrape.
type MetricsCollector struct {
	devices DeviceSource
	bridge  *Bridge

	registered   prometheus.Gauge
	ready        *prometheus.GaugeVec
	powered      *prometheus.GaugeVec
	brightness   *prometheus.GaugeVec
	transactions *prometheus.GaugeVec
	heartbeats   *prometheus.GaugeVec
	errors       *prometheus.GaugeVec
	connects     *prometheus.GaugeVec
	lastActivity *prometheus.GaugeVec

	commands       prometheus.Gauge
	commandsFailed prometheus.Gauge
	mqttConnected  prometheus.Gauge
}

// NewMetricsCollector creates a collector over devices. bridge is optional
// and adds the MQTT command counters.
func NewMetricsCollector(devices DeviceSource, bridge *Bridge) *MetricsCollector {
	labels := []string{"address", "name"}
	return &MetricsCollector{
		devices: devices,
		bridge:  bridge,
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graylogic_bulb_registered",
			Help: "Number of bulbs in range",
		}),
		ready: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_bulb_ready",
			Help: "1 if the bulb link is ready",
		}, labels),
		powered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_bulb_powered_on",
			Help: "1 if the bulb was last switched on",
		}, labels),
		brightness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_bulb_brightness",
			Help: "Cached brightness level (1-16, 0 if unknown)",
		}, labels),
		transactions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_bulb_transactions_total",
			Help: "Request/response transactions since start",
		}, labels),
		heartbeats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_bulb_heartbeats_total",
			Help: "Heartbeat transactions since start",
		}, labels),
		errors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_bulb_errors_total",
			Help: "Connect and transaction failures since start",
		}, labels),
		connects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_bulb_connects_total",
			Help: "Successful handshakes since start",
		}, labels),
		lastActivity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_bulb_last_activity_timestamp_seconds",
			Help: "Last completed transaction (epoch seconds)",
		}, labels),
		commands: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graylogic_bulb_bridge_commands_total",
			Help: "MQTT commands received",
		}),
		commandsFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graylogic_bulb_bridge_commands_failed_total",
			Help: "MQTT commands acknowledged as failed",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graylogic_bulb_bridge_mqtt_connected",
			Help: "1 if the bridge is connected to the broker",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.registered.Describe(ch)
	c.ready.Describe(ch)
	c.powered.Describe(ch)
	c.brightness.Describe(ch)
	c.transactions.Describe(ch)
	c.heartbeats.Describe(ch)
	c.errors.Describe(ch)
	c.connects.Describe(ch)
	c.lastActivity.Describe(ch)
	c.commands.Describe(ch)
	c.commandsFailed.Describe(ch)
	c.mqttConnected.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	// Bulbs that left range drop out of the label sets.
	for _, vec := range []*prometheus.GaugeVec{c.ready, c.powered, c.brightness, c.transactions, c.heartbeats, c.errors, c.connects, c.lastActivity} {
		vec.Reset()
	}

	conns := c.devices.Devices()
	c.registered.Set(float64(len(conns)))

	for _, conn := range conns {
		labels := prometheus.Labels{"address": conn.Address(), "name": conn.Name()}
		snap := conn.Snapshot()
		stats := conn.Stats()

		c.ready.With(labels).Set(boolGauge(snap.Ready()))
		c.powered.With(labels).Set(boolGauge(snap.Power == PowerOn))
		c.brightness.With(labels).Set(float64(snap.Brightness))
		c.transactions.With(labels).Set(float64(stats.TransactionsTotal))
		c.heartbeats.With(labels).Set(float64(stats.HeartbeatsTotal))
		c.errors.With(labels).Set(float64(stats.ErrorsTotal))
		c.connects.With(labels).Set(float64(stats.ConnectsTotal))
		if !stats.LastActivity.IsZero() {
			c.lastActivity.With(labels).Set(float64(stats.LastActivity.Unix()))
		}
	}

	if c.bridge != nil {
		m := c.bridge.GetMetrics()
		c.commands.Set(float64(m.CommandsTotal))
		c.commandsFailed.Set(float64(m.CommandsFailed))
		c.mqttConnected.Set(boolGauge(m.Connected))
	}

	c.registered.Collect(ch)
	c.ready.Collect(ch)
	c.powered.Collect(ch)
	c.brightness.Collect(ch)
	c.transactions.Collect(ch)
	c.heartbeats.Collect(ch)
	c.errors.Collect(ch)
	c.connects.Collect(ch)
	c.lastActivity.Collect(ch)
	c.commands.Collect(ch)
	c.commandsFailed.Collect(ch)
	c.mqttConnected.Collect(ch)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
