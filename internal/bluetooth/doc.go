// Package bluetooth provides the Bluetooth Classic plumbing for the bulb
// bridge: device inquiry through BlueZ over D-Bus, and the byte streams a
// bulb.Connection runs over.
//
// # Transports
//
//   - RFCOMMDialer opens an AF_BLUETOOTH/BTPROTO_RFCOMM socket directly
//     (Linux only) and probes a list of channels until one accepts.
//   - SerialDialer opens a serial device node, for bulbs already bound to
//     /dev/rfcommN by rfcomm(1) or reached through a USB serial bridge.
//
// RFCOMM streams support deadlines, so context cancellation reaches
// in-flight reads. Serial ports have no deadlines; their reads poll with a
// short timeout so Close releases a blocked reader.
//
// # Discovery
//
// BlueZ runs a BR/EDR inquiry for a bounded duration and reports every
// device currently in range. A classic device that already holds a link
// stops answering inquiry, so devices BlueZ reports as connected are
// treated as present.
//
// # Thread Safety
//
// BlueZ and both dialers are safe for concurrent use.
package bluetooth
