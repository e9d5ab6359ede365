package bulb

import (
	"fmt"
	"io"
)

// Function codes carried in byte 5 of every frame.
const (
	FuncVendorInfo     byte = 0x00
	FuncHeartbeat      byte = 0x02
	FuncIdentification byte = 0x80
	FuncStatus         byte = 0x81
)

// Frame layout constants.
const (
	// markerRequest is the direction byte on frames sent to the bulb.
	markerRequest byte = 0x51

	// markerResponse is the direction byte on frames sent by the bulb.
	markerResponse byte = 0x41

	// headerSize covers the magic prefix, the direction marker and the
	// function code.
	headerSize = 6

	// frameOverhead is the header plus the length byte. The length field
	// counts it, so a frame with an empty payload has length 7.
	frameOverhead = headerSize + 1

	// maxFrameLength is the largest value the length byte can carry.
	maxFrameLength = 0xFF
)

// frameMagic prefixes every frame in both directions.
var frameMagic = [4]byte{0x01, 0xFE, 0x00, 0x00}

// handshakeMagic is written raw, outside the frame format, right after the
// transport opens.
var handshakeMagic = []byte("01234567")

// Frame is a decoded frame.
type Frame struct {
	Marker   byte
	Function byte
	Payload  []byte
}

// EncodeRequest builds a request frame:
//
//	01 FE 00 00 51 <function> <len> <payload...>
//
// where len is len(payload)+7.
//
// Returns ErrPayloadTooLarge if the payload does not fit the length byte.
func EncodeRequest(function byte, payload []byte) ([]byte, error) {
	length := len(payload) + frameOverhead
	if length > maxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	frame := make([]byte, 0, length)
	frame = append(frame, frameMagic[:]...)
	frame = append(frame, markerRequest, function, byte(length))
	frame = append(frame, payload...)
	return frame, nil
}

// ReadFrame reads exactly one frame from r in either direction.
//
// It reads the 6-byte header, then the length byte, then len-7 payload
// bytes. Short reads are retried until the frame is complete (io.ReadFull).
//
// Returns:
//   - Frame: direction marker, function code and payload (possibly empty)
//   - error: ErrInvalidFrame for a bad magic, marker or length; otherwise
//     the underlying read error (io.ErrUnexpectedEOF on EOF mid-frame)
func ReadFrame(r io.Reader) (Frame, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("reading header: %w", err)
	}
	if [4]byte(header[:4]) != frameMagic {
		return Frame{}, fmt.Errorf("%w: bad magic % X", ErrInvalidFrame, header[:4])
	}
	if header[4] != markerRequest && header[4] != markerResponse {
		return Frame{}, fmt.Errorf("%w: bad direction marker 0x%02X", ErrInvalidFrame, header[4])
	}

	var lengthByte [1]byte
	if _, err := io.ReadFull(r, lengthByte[:]); err != nil {
		return Frame{}, fmt.Errorf("reading length: %w", err)
	}
	length := int(lengthByte[0])
	if length < frameOverhead {
		return Frame{}, fmt.Errorf("%w: length %d below frame overhead", ErrInvalidFrame, length)
	}

	payload := make([]byte, length-frameOverhead)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("reading %d byte payload: %w", len(payload), err)
	}

	return Frame{Marker: header[4], Function: header[5], Payload: payload}, nil
}

// ReadResponse reads one frame and requires the bulb-to-host marker.
func ReadResponse(r io.Reader) (Frame, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return Frame{}, err
	}
	if frame.Marker != markerResponse {
		return Frame{}, fmt.Errorf("%w: request marker 0x%02X on a response", ErrInvalidFrame, frame.Marker)
	}
	return frame, nil
}

// ─── Payloads ───────────────────────────────────────────────────────

// heartbeatPayload is also used for the vendor info request.
var heartbeatPayload = []byte{0x00, 0x00, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00, 0x80}

var identificationPayload = make([]byte, 9)

// Status (0x81) payloads share one shape:
//
//	00×9 0D <n> <group> 03 <op> <args...> 0E
//
// where n is len(args)+6.
const (
	groupWhite byte = 0x01
	groupColor byte = 0x02

	opRead       byte = 0x00
	opPowerMode  byte = 0x01
	opBrightness byte = 0x02
	opColor      byte = 0x03
	opParty      byte = 0x04
)

// Byte offsets inside status read responses.
const (
	statusModeOffset       = 14
	statusBrightnessOffset = 15
	statusColorOffset      = 16

	statusModeResponseLen  = statusBrightnessOffset + 1
	statusColorResponseLen = statusColorOffset + 3
)

func statusPayload(group, op byte, args ...byte) []byte {
	p := make([]byte, 9, 9+5+len(args)+1)
	p = append(p, 0x0D, byte(len(args)+6), group, 0x03, op)
	p = append(p, args...)
	return append(p, 0x0E)
}

// statusQueryPayload asks for the mode/brightness (groupWhite) or the
// colour (groupColor) status block.
func statusQueryPayload(group byte) []byte {
	return statusPayload(group, opRead, 0x00)
}

func powerModePayload(color, on bool) []byte {
	group := groupWhite
	if color {
		group = groupColor
	}
	state := byte(0x02)
	if on {
		state = 0x01
	}
	return statusPayload(group, opPowerMode, state)
}

func brightnessPayload(level int) []byte {
	return statusPayload(groupWhite, opBrightness, byte(level))
}

func colorPayload(c RGB) []byte {
	return statusPayload(groupColor, opColor, c.R, c.G, c.B, 0x00)
}

func partyModePayload(mode int) []byte {
	return statusPayload(groupColor, opParty, byte(mode))
}
