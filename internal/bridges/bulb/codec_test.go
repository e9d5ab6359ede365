package bulb

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name     string
		function byte
		payload  []byte
		want     string
	}{
		{
			name:     "heartbeat",
			function: FuncHeartbeat,
			payload:  heartbeatPayload,
			want:     "01fe0000510210000000008000000080",
		},
		{
			name:     "empty payload",
			function: FuncIdentification,
			want:     "01fe0000518007",
		},
		{
			name:     "set colour",
			function: FuncStatus,
			payload:  colorPayload(RGB{R: 0xFF, G: 0x80, B: 0x40}),
			want:     "01fe000051811a" + "0000000000000000000d0a020303ff8040000e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeRequest(tt.function, tt.payload)
			if err != nil {
				t.Fatalf("EncodeRequest() unexpected error: %v", err)
			}
			if hex.EncodeToString(got) != tt.want {
				t.Errorf("EncodeRequest() = %x, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeRequestTooLarge(t *testing.T) {
	if _, err := EncodeRequest(FuncStatus, make([]byte, 249)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("249-byte payload: err = %v, want ErrPayloadTooLarge", err)
	}
	frame, err := EncodeRequest(FuncStatus, make([]byte, 248))
	if err != nil {
		t.Fatalf("248-byte payload: unexpected error %v", err)
	}
	if frame[6] != 0xFF {
		t.Errorf("length byte = 0x%02X, want 0xFF", frame[6])
	}
}

func TestPayloads(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want string
	}{
		{"status query white", statusQueryPayload(groupWhite), "0000000000000000000d07010300000e"},
		{"status query colour", statusQueryPayload(groupColor), "0000000000000000000d07020300000e"},
		{"power on white", powerModePayload(false, true), "0000000000000000000d07010301010e"},
		{"power off colour", powerModePayload(true, false), "0000000000000000000d07020301020e"},
		{"brightness 12", brightnessPayload(12), "0000000000000000000d070103020c0e"},
		{"colour", colorPayload(RGB{R: 1, G: 2, B: 3}), "0000000000000000000d0a020303010203000e"},
		{"party 4", partyModePayload(4), "0000000000000000000d07020304040e"},
		{"identification", identificationPayload, "000000000000000000"},
		{"heartbeat", heartbeatPayload, "000000008000000080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, mustHex(t, tt.want)) {
				t.Errorf("payload = %x, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestReadResponse(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		want        Frame
		wantErr     error
		wantPending int // bytes left unread
	}{
		{
			name: "heartbeat reply",
			data: "01fe00004102" + "0a" + "aabbcc",
			want: Frame{Function: FuncHeartbeat, Payload: []byte{0xAA, 0xBB, 0xCC}},
		},
		{
			name: "empty payload",
			data: "01fe00004180" + "07",
			want: Frame{Function: FuncIdentification, Payload: []byte{}},
		},
		{
			name:        "consumes exactly one frame",
			data:        "01fe00004102" + "08" + "01" + "01fe",
			want:        Frame{Function: FuncHeartbeat, Payload: []byte{0x01}},
			wantPending: 2,
		},
		{
			name:    "bad magic",
			data:    "02fe00004102" + "07",
			wantErr: ErrInvalidFrame,
		},
		{
			name:    "request marker",
			data:    "01fe00005102" + "07",
			wantErr: ErrInvalidFrame,
		},
		{
			name:    "length below overhead",
			data:    "01fe00004102" + "06",
			wantErr: ErrInvalidFrame,
		},
		{
			name:    "truncated payload",
			data:    "01fe00004102" + "0a" + "aa",
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "truncated header",
			data:    "01fe00",
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "empty stream",
			data:    "",
			wantErr: io.EOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(mustHex(t, tt.data))
			got, err := ReadResponse(r)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ReadResponse() err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadResponse() unexpected error: %v", err)
			}
			if got.Function != tt.want.Function {
				t.Errorf("Function = 0x%02X, want 0x%02X", got.Function, tt.want.Function)
			}
			if !bytes.Equal(got.Payload, tt.want.Payload) {
				t.Errorf("Payload = %x, want %x", got.Payload, tt.want.Payload)
			}
			if r.Len() != tt.wantPending {
				t.Errorf("unread = %d, want %d", r.Len(), tt.wantPending)
			}
		})
	}
}

// chunkReader returns at most one byte per Read.
type chunkReader struct{ r io.Reader }

func (c chunkReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return c.r.Read(p)
}

func TestReadResponseShortReads(t *testing.T) {
	data := mustHex(t, "01fe00004181"+"17"+"0000000000000000000000000000010a")
	got, err := ReadResponse(chunkReader{bytes.NewReader(data)})
	if err != nil {
		t.Fatalf("ReadResponse() unexpected error: %v", err)
	}
	if len(got.Payload) != 16 {
		t.Errorf("payload length = %d, want 16", len(got.Payload))
	}
	if got.Payload[statusBrightnessOffset] != 0x0A {
		t.Errorf("brightness byte = 0x%02X, want 0x0A", got.Payload[statusBrightnessOffset])
	}
}

func TestReadFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		function byte
		payload  []byte
	}{
		{"empty", FuncIdentification, []byte{}},
		{"one byte", FuncHeartbeat, []byte{0x5A}},
		{"nine bytes", FuncStatus, heartbeatPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeRequest(tt.function, tt.payload)
			if err != nil {
				t.Fatalf("EncodeRequest() unexpected error: %v", err)
			}

			r := bytes.NewReader(data)
			got, err := ReadFrame(r)
			if err != nil {
				t.Fatalf("ReadFrame() unexpected error: %v", err)
			}
			if got.Marker != markerRequest {
				t.Errorf("Marker = 0x%02X, want 0x%02X", got.Marker, markerRequest)
			}
			if got.Function != tt.function {
				t.Errorf("Function = 0x%02X, want 0x%02X", got.Function, tt.function)
			}
			if !bytes.Equal(got.Payload, tt.payload) {
				t.Errorf("Payload = %x, want %x", got.Payload, tt.payload)
			}
			if r.Len() != 0 {
				t.Errorf("unread = %d, want 0", r.Len())
			}
		})
	}
}

func TestReadFrameUnknownMarker(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader(mustHex(t, "01fe00007702"+"07"))); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("ReadFrame() err = %v, want ErrInvalidFrame", err)
	}
}
