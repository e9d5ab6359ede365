// Package influxdb writes bulb telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Every state the bulb
// bridge publishes on MQTT is also written as a bulb_state point tagged by
// address, and registry changes are written as bulb_events, so brightness
// and availability history can be graphed per bulb.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteBulbState("C9:A3:05:11:22:33", map[string]any{"on": true, "brightness": 12})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking and batched (batch_size, flush_interval); batch
// failures are delivered to the SetOnError callback.
package influxdb
