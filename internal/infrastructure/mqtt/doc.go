// Package mqtt provides MQTT client connectivity for the bulb bridge.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bulb bridge uses MQTT as its only outward surface. Subscribers send
// commands and requests; the bridge publishes acks, retained state,
// discovery and health.
//
//	Gray Logic Core ↔ MQTT Broker ↔ Bulb Bridge ↔ Bluetooth bulbs
//
// Subscriptions are restored by the client after a reconnect. The broker's
// Last Will carries the bridge's "offline" health message.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{Topic: topic, Payload: lwt, QoS: 1, Retained: true})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/bulb/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
