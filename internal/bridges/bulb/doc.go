// Package bulb drives RGB light bulbs that speak a small framed protocol
// over a Bluetooth Serial Port Profile link, and bridges them to Gray Logic
// Core over MQTT.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   RFCOMM / tty
//	│   Gray Logic    │   MQTT   │  Bulb Bridge    │◄──────────────► Bulbs
//	│      Core       │◄────────►│   (this pkg)    │
//	└─────────────────┘          └─────────────────┘
//
// A Manager runs inquiries and keeps one Connection per bulb in range. The
// Bridge consumes the Manager's events, publishes retained state and
// discovery, and applies commands from Core to the matching Connection.
//
// # Wire Protocol
//
// Requests are framed as
//
//	01 FE 00 00 51 <function> <length> <payload...>
//
// where length counts the whole frame (payload + 7). Responses use the
// marker 0x41 in place of 0x51 and echo the function code. Status reads
// and writes share function 0x81 and a 9-byte zero prefix.
//
// # Brightness and Colour
//
// Bulbs have 16 native brightness levels. A colour is stored as a level
// plus a base colour whose brightest channel is 255, so changing brightness
// in colour mode keeps the hue (see NormalizeColorBrightness).
//
// # Thread Safety
//
// Connection, Manager and Bridge are safe for concurrent use. Transactions
// on one Connection are serialised; cached state is read without waiting
// on the link.
package bulb
