package bulb

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

func TestConnectHandshakeWhiteMode(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)

	if got := string(bulb.handshakeBytes()); got != "01234567" {
		t.Errorf("handshake = %q, want %q", got, "01234567")
	}
	if !conn.IsReady() {
		t.Fatalf("State() = %v, want ready", conn.State())
	}
	if conn.Mode() != ModeWhite {
		t.Errorf("Mode() = %v, want white", conn.Mode())
	}
	if conn.Brightness() != 10 {
		t.Errorf("Brightness() = %d, want 10", conn.Brightness())
	}
	if conn.ColorRGB() != White {
		t.Errorf("ColorRGB() = %v, want white", conn.ColorRGB())
	}
	if !conn.IsPoweredOn() {
		t.Errorf("Power() = %v, want on", conn.Power())
	}

	writes := bulb.statusWrites()
	if len(writes) != 1 || !bytes.Equal(writes[0], powerModePayload(false, true)) {
		t.Errorf("status writes = %x, want single power-on in white mode", writes)
	}
	if conn.Address() != "C9:A3:05:11:22:33" {
		t.Errorf("Address() = %q, want uppercased", conn.Address())
	}
}

func TestConnectHandshakeColorMode(t *testing.T) {
	bulb := newFakeBulb()
	bulb.mode = groupColor
	bulb.color = RGB{R: 200, G: 100, B: 50}
	conn := connectFake(t, bulb)

	if !conn.IsColorMode() {
		t.Fatalf("Mode() = %v, want color", conn.Mode())
	}
	snap := conn.Snapshot()
	if snap.Brightness != 13 {
		t.Errorf("Brightness = %d, want 13", snap.Brightness)
	}
	if snap.Color != (RGB{R: 255, G: 128, B: 64}) {
		t.Errorf("Color = %v, want ff8040", snap.Color)
	}

	writes := bulb.statusWrites()
	if len(writes) != 1 || !bytes.Equal(writes[0], powerModePayload(true, true)) {
		t.Errorf("status writes = %x, want single power-on in colour mode", writes)
	}
}

func TestConnectUnknownMode(t *testing.T) {
	bulb := newFakeBulb()
	bulb.mode = 0x07
	logger := &testLogger{}

	conn := NewConnection("C9:A3:05:11:22:33", "", bulb, ConnectionOptions{
		HeartbeatInterval: time.Hour,
		Logger:            logger,
	})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	defer conn.Disconnect()

	if conn.Mode() != ModeUnknown {
		t.Errorf("Mode() = %v, want unknown", conn.Mode())
	}
	if !logger.has("unrecognised mode in status response") {
		t.Error("expected a warning for the unrecognised mode byte")
	}
}

func TestConnectDialFailure(t *testing.T) {
	conn := NewConnection("C9:A3:05:11:22:33", "", failingDialer{err: errNoRoute}, ConnectionOptions{})

	err := conn.Connect(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Errorf("Connect() err = %v, want ErrConnection", err)
	}
	if !errors.Is(err, errNoRoute) {
		t.Errorf("Connect() err = %v, want cause in chain", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", conn.State())
	}
	if conn.Stats().ErrorsTotal != 1 {
		t.Errorf("ErrorsTotal = %d, want 1", conn.Stats().ErrorsTotal)
	}
}

func TestConnectHandshakeFailure(t *testing.T) {
	bulb := newFakeBulb()
	bulb.dropOnSet = true
	bulb.dropOn = opPowerMode

	conn := NewConnection("C9:A3:05:11:22:33", "", bulb, ConnectionOptions{HeartbeatInterval: time.Hour})
	err := conn.Connect(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Connect() err = %v, want ErrConnection", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", conn.State())
	}
	if conn.Mode() != ModeUnknown || conn.Brightness() != 0 {
		t.Errorf("cached state not cleared: %+v", conn.Snapshot())
	}
}

func TestConnectTwice(t *testing.T) {
	conn := connectFake(t, newFakeBulb())

	if err := conn.Connect(context.Background()); !errors.Is(err, ErrPrecondition) {
		t.Errorf("second Connect() err = %v, want ErrPrecondition", err)
	}
}

func TestOperationsRequireReady(t *testing.T) {
	conn := NewConnection("C9:A3:05:11:22:33", "", newFakeBulb(), ConnectionOptions{})
	ctx := context.Background()

	ops := map[string]func() error{
		"SetPower":            func() error { return conn.SetPower(ctx, true) },
		"SetColorMode":        func() error { return conn.SetColorMode(ctx, true) },
		"SetBrightness":       func() error { return conn.SetBrightness(ctx, 5) },
		"SetColorRGB":         func() error { return conn.SetColorRGB(ctx, RGB{R: 1}) },
		"SetColorHSV":         func() error { return conn.SetColorHSV(ctx, 10, 5) },
		"SetWhiteTemperature": func() error { return conn.SetWhiteTemperature(ctx, 2700, 5) },
		"SetPartyMode":        func() error { return conn.SetPartyMode(ctx, 1) },
		"RefreshStatus":       func() error { return conn.RefreshStatus(ctx) },
		"ReadIdentification": func() error {
			_, err := conn.ReadIdentification(ctx)
			return err
		},
		"Transact": func() error {
			_, err := conn.Transact(ctx, FuncHeartbeat, heartbeatPayload)
			return err
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, ErrPrecondition) {
				t.Errorf("%s() err = %v, want ErrPrecondition", name, err)
			}
		})
	}
}

func TestSetPowerIdempotent(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)
	ctx := context.Background()

	if err := conn.SetPower(ctx, true); err != nil {
		t.Fatalf("SetPower(true) unexpected error: %v", err)
	}
	if n := len(bulb.statusWrites()); n != 1 {
		t.Errorf("writes after redundant power on = %d, want 1", n)
	}

	if err := conn.SetPower(ctx, false); err != nil {
		t.Fatalf("SetPower(false) unexpected error: %v", err)
	}
	if err := conn.SetPower(ctx, false); err != nil {
		t.Fatalf("SetPower(false) unexpected error: %v", err)
	}

	writes := bulb.statusWrites()
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(writes))
	}
	if !bytes.Equal(writes[1], powerModePayload(false, false)) {
		t.Errorf("power off payload = %x", writes[1])
	}
	if conn.Power() != PowerOff {
		t.Errorf("Power() = %v, want off", conn.Power())
	}
}

func TestSetColorMode(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)
	ctx := context.Background()

	if err := conn.SetColorMode(ctx, false); err != nil {
		t.Fatalf("SetColorMode(false) unexpected error: %v", err)
	}
	if n := len(bulb.statusWrites()); n != 1 {
		t.Errorf("redundant mode switch sent a frame")
	}

	if err := conn.SetColorMode(ctx, true); err != nil {
		t.Fatalf("SetColorMode(true) unexpected error: %v", err)
	}
	writes := bulb.statusWrites()
	if !bytes.Equal(writes[len(writes)-1], powerModePayload(true, true)) {
		t.Errorf("mode payload = %x, want colour with power bit on", writes[len(writes)-1])
	}
	if !conn.IsColorMode() {
		t.Error("IsColorMode() = false after switch")
	}
}

func TestSetBrightnessWhiteMode(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)

	if err := conn.SetBrightness(context.Background(), 5); err != nil {
		t.Fatalf("SetBrightness() unexpected error: %v", err)
	}

	writes := bulb.statusWrites()
	if !bytes.Equal(writes[len(writes)-1], brightnessPayload(5)) {
		t.Errorf("payload = %x, want brightness 5", writes[len(writes)-1])
	}
	if conn.Brightness() != 5 {
		t.Errorf("Brightness() = %d, want 5", conn.Brightness())
	}
}

func TestSetBrightnessColorModeKeepsHue(t *testing.T) {
	bulb := newFakeBulb()
	bulb.mode = groupColor
	bulb.color = RGB{R: 255, G: 128, B: 64}
	conn := connectFake(t, bulb)

	if err := conn.SetBrightness(context.Background(), 8); err != nil {
		t.Fatalf("SetBrightness() unexpected error: %v", err)
	}

	writes := bulb.statusWrites()
	if !bytes.Equal(writes[len(writes)-1], colorPayload(RGB{R: 128, G: 64, B: 32})) {
		t.Errorf("payload = %x, want scaled colour 804020", writes[len(writes)-1])
	}
	snap := conn.Snapshot()
	if snap.Brightness != 8 {
		t.Errorf("Brightness = %d, want 8", snap.Brightness)
	}
	if snap.Color != (RGB{R: 255, G: 128, B: 64}) {
		t.Errorf("Color = %v, want base ff8040 kept", snap.Color)
	}
}

func TestSetBrightnessOutOfRange(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)

	for _, level := range []int{0, 17, -1} {
		if err := conn.SetBrightness(context.Background(), level); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetBrightness(%d) err = %v, want ErrInvalidArgument", level, err)
		}
	}
	if n := len(bulb.statusWrites()); n != 1 {
		t.Errorf("invalid brightness sent frames: writes = %d", n)
	}
}

func TestSetColorRGB(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)

	if err := conn.SetColorRGB(context.Background(), RGB{R: 200, G: 100, B: 50}); err != nil {
		t.Fatalf("SetColorRGB() unexpected error: %v", err)
	}

	writes := bulb.statusWrites()
	if !bytes.Equal(writes[len(writes)-1], colorPayload(RGB{R: 200, G: 100, B: 50})) {
		t.Errorf("payload = %x", writes[len(writes)-1])
	}
	snap := conn.Snapshot()
	if snap.Mode != ModeColor || snap.Brightness != 13 || snap.Color != (RGB{R: 255, G: 128, B: 64}) {
		t.Errorf("Snapshot() = %+v, want colour/13/ff8040", snap)
	}

	hsv := conn.ColorHSV()
	if hsv.Val != 1 {
		t.Errorf("ColorHSV().Val = %v, want 1 for normalised base", hsv.Val)
	}
}

func TestSetColorRGBRepeatedWritesTwice(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)
	color := RGB{R: 10, G: 200, B: 30}

	before := len(bulb.statusWrites())
	for i := 0; i < 2; i++ {
		if err := conn.SetColorRGB(context.Background(), color); err != nil {
			t.Fatalf("SetColorRGB() #%d unexpected error: %v", i+1, err)
		}
	}

	writes := bulb.statusWrites()[before:]
	if len(writes) != 2 {
		t.Fatalf("status writes = %d, want 2", len(writes))
	}
	for i, w := range writes {
		if !bytes.Equal(w, colorPayload(color)) {
			t.Errorf("write %d = %x, want %x", i, w, colorPayload(color))
		}
	}
}

func TestSetColorHSV(t *testing.T) {
	tests := []struct {
		name  string
		hue   float64
		level int
		want  RGB
	}{
		{"green full", 120, 16, RGB{G: 255}},
		{"red half", 0, 8, RGB{R: 128}},
		{"wrapped blue", 600, 16, RGB{B: 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bulb := newFakeBulb()
			conn := connectFake(t, bulb)

			if err := conn.SetColorHSV(context.Background(), tt.hue, tt.level); err != nil {
				t.Fatalf("SetColorHSV() unexpected error: %v", err)
			}
			writes := bulb.statusWrites()
			if !bytes.Equal(writes[len(writes)-1], colorPayload(tt.want)) {
				t.Errorf("payload = %x, want colour %v", writes[len(writes)-1], tt.want)
			}
			if conn.Brightness() != tt.level {
				t.Errorf("Brightness() = %d, want %d", conn.Brightness(), tt.level)
			}
		})
	}
}

func TestSetWhiteTemperature(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)
	ctx := context.Background()

	if err := conn.SetWhiteTemperature(ctx, 6600, 16); err != nil {
		t.Fatalf("SetWhiteTemperature() unexpected error: %v", err)
	}
	writes := bulb.statusWrites()
	if !bytes.Equal(writes[len(writes)-1], colorPayload(White)) {
		t.Errorf("payload = %x, want white", writes[len(writes)-1])
	}

	if err := conn.SetWhiteTemperature(ctx, 2700, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("level 0: err = %v, want ErrInvalidArgument", err)
	}
}

func TestSetPartyMode(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)
	ctx := context.Background()

	if err := conn.SetPartyMode(ctx, 7); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetPartyMode(7) err = %v, want ErrInvalidArgument", err)
	}
	if err := conn.SetPartyMode(ctx, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetPartyMode(-1) err = %v, want ErrInvalidArgument", err)
	}

	if err := conn.SetPartyMode(ctx, 3); err != nil {
		t.Fatalf("SetPartyMode(3) unexpected error: %v", err)
	}
	writes := bulb.statusWrites()
	if !bytes.Equal(writes[len(writes)-1], partyModePayload(3)) {
		t.Errorf("payload = %x, want party 3", writes[len(writes)-1])
	}
	if !conn.IsColorMode() {
		t.Error("party mode should leave the bulb in colour mode")
	}
}

func TestReadIdentificationAndVendorInfo(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)
	ctx := context.Background()

	id, err := conn.ReadIdentification(ctx)
	if err != nil {
		t.Fatalf("ReadIdentification() unexpected error: %v", err)
	}
	if string(id) != "SPP-BULB" {
		t.Errorf("ReadIdentification() = %q, want %q", id, "SPP-BULB")
	}

	info, err := conn.ReadVendorInfo(ctx)
	if err != nil {
		t.Fatalf("ReadVendorInfo() unexpected error: %v", err)
	}
	if !bytes.Equal(info, []byte{0x10, 0x20}) {
		t.Errorf("ReadVendorInfo() = %x, want 1020", info)
	}
}

func TestRefreshStatus(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)

	bulb.mu.Lock()
	bulb.mode = groupColor
	bulb.color = RGB{R: 0, G: 0, B: 128}
	bulb.mu.Unlock()

	if err := conn.RefreshStatus(context.Background()); err != nil {
		t.Fatalf("RefreshStatus() unexpected error: %v", err)
	}
	snap := conn.Snapshot()
	if snap.Mode != ModeColor || snap.Brightness != 8 || snap.Color != (RGB{B: 255}) {
		t.Errorf("Snapshot() = %+v, want colour/8/0000ff", snap)
	}
}

func TestFunctionEchoMismatchIsLogged(t *testing.T) {
	bulb := newFakeBulb()
	logger := &testLogger{}
	conn := connectFake(t, bulb)
	conn.SetLogger(logger)

	bulb.mu.Lock()
	bulb.echo = 0x55
	bulb.mu.Unlock()

	if _, err := conn.ReadIdentification(context.Background()); err != nil {
		t.Fatalf("ReadIdentification() unexpected error: %v", err)
	}
	if !logger.has("response function code mismatch") {
		t.Error("expected mismatch to be logged")
	}
	if !conn.IsReady() {
		t.Error("mismatch should not tear the connection down")
	}
}

func TestTransportFailureTearsDown(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)

	bulb.mu.Lock()
	bulb.dropOnSet = true
	bulb.dropOn = opBrightness
	bulb.mu.Unlock()

	err := conn.SetBrightness(context.Background(), 3)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("SetBrightness() err = %v, want ErrProtocol", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", conn.State())
	}
	snap := conn.Snapshot()
	if snap.Power != PowerUnknown || snap.Mode != ModeUnknown || snap.Brightness != 0 || snap.Color != (RGB{}) {
		t.Errorf("cached state not cleared: %+v", snap)
	}
	if err := conn.SetPower(context.Background(), true); !errors.Is(err, ErrPrecondition) {
		t.Errorf("SetPower() after failure err = %v, want ErrPrecondition", err)
	}
}

func TestMidFrameFailureTearsDown(t *testing.T) {
	tests := []struct {
		name       string
		truncateAt int
	}{
		{"inside header", 3},
		{"before length", headerSize},
		{"before payload", frameOverhead},
		{"inside payload", frameOverhead + 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bulb := newFakeBulb()
			conn := connectFake(t, bulb)

			bulb.mu.Lock()
			bulb.dropOnSet = true
			bulb.dropOn = opRead
			bulb.truncateAt = tt.truncateAt
			bulb.mu.Unlock()

			err := conn.RefreshStatus(context.Background())
			if !errors.Is(err, ErrProtocol) {
				t.Fatalf("RefreshStatus() err = %v, want ErrProtocol", err)
			}
			if conn.State() != StateDisconnected {
				t.Errorf("State() = %v, want disconnected", conn.State())
			}
			snap := conn.Snapshot()
			if snap.Power != PowerUnknown || snap.Mode != ModeUnknown || snap.Brightness != 0 || snap.Color != (RGB{}) {
				t.Errorf("cached state not cleared: %+v", snap)
			}
			if err := conn.SetPower(context.Background(), true); !errors.Is(err, ErrPrecondition) {
				t.Errorf("SetPower() after failure err = %v, want ErrPrecondition", err)
			}
		})
	}
}

func TestTransactContextDeadline(t *testing.T) {
	bulb := newFakeBulb()
	bulb.hangOn = FuncIdentification
	conn := connectFake(t, bulb)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.ReadIdentification(ctx)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("ReadIdentification() err = %v, want ErrProtocol", err)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("ReadIdentification() err = %v, want deadline in chain", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("deadline not applied, took %v", elapsed)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", conn.State())
	}
}

func TestTransactCancelledBeforeStart(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := conn.ReadIdentification(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if !conn.IsReady() {
		t.Error("a call that never started should not tear down")
	}
	if bulb.count(FuncIdentification) != 0 {
		t.Error("cancelled call reached the wire")
	}
}

func TestDisconnectUnblocksHungTransaction(t *testing.T) {
	bulb := newFakeBulb()
	bulb.hangOn = FuncIdentification
	conn := connectFake(t, bulb)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.ReadIdentification(context.Background())
		errCh <- err
	}()

	waitFor(t, "identification request", func() bool { return bulb.count(FuncIdentification) == 1 })

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect() unexpected error: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("hung transaction returned nil after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hung transaction not released by Disconnect")
	}
}

func TestDisconnectIdempotentAndReconnect(t *testing.T) {
	bulb := newFakeBulb()
	conn := connectFake(t, bulb)

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect() unexpected error: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() unexpected error: %v", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", conn.State())
	}

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect unexpected error: %v", err)
	}
	if !conn.IsReady() {
		t.Error("not ready after reconnect")
	}
	if got := conn.Stats().ConnectsTotal; got != 2 {
		t.Errorf("ConnectsTotal = %d, want 2", got)
	}
}

func TestHeartbeatRuns(t *testing.T) {
	bulb := newFakeBulb()
	conn := NewConnection("C9:A3:05:11:22:33", "", bulb, ConnectionOptions{HeartbeatInterval: 10 * time.Millisecond})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	waitFor(t, "three heartbeats", func() bool { return bulb.count(FuncHeartbeat) >= 3 })

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect() unexpected error: %v", err)
	}
	after := bulb.count(FuncHeartbeat)
	time.Sleep(50 * time.Millisecond)
	if bulb.count(FuncHeartbeat) != after {
		t.Error("heartbeat kept running after Disconnect")
	}
	if conn.Stats().HeartbeatsTotal == 0 {
		t.Error("HeartbeatsTotal = 0")
	}
}

func TestHeartbeatFailureDisconnects(t *testing.T) {
	bulb := newFakeBulb()
	conn := NewConnection("C9:A3:05:11:22:33", "", bulb, ConnectionOptions{HeartbeatInterval: 10 * time.Millisecond})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	bulb.mu.Lock()
	server := bulb.conns[0]
	bulb.mu.Unlock()
	_ = server.Close()

	waitFor(t, "disconnect after heartbeat failure", func() bool { return conn.State() == StateDisconnected })

	if conn.Mode() != ModeUnknown {
		t.Errorf("Mode() = %v, want unknown after failure", conn.Mode())
	}
}

func TestConcurrentOperationsDoNotInterleave(t *testing.T) {
	bulb := newFakeBulb()
	conn := NewConnection("C9:A3:05:11:22:33", "", bulb, ConnectionOptions{HeartbeatInterval: time.Millisecond})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	defer conn.Disconnect()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 40 {
		wg.Add(1)
		go func(level int) {
			defer wg.Done()
			if err := conn.SetBrightness(context.Background(), level); err != nil {
				errs <- err
			}
			_ = conn.Snapshot()
		}(i%MaxBrightness + 1)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent SetBrightness() error: %v", err)
	}
	if !conn.IsReady() {
		t.Error("connection dropped under concurrent load")
	}
	if got := bulb.count(FuncStatus); got < 40 {
		t.Errorf("status frames = %d, want at least 40", got)
	}
}

func TestStateStrings(t *testing.T) {
	if StateReady.String() != "ready" || StateConnecting.String() != "connecting" || StateDisconnected.String() != "disconnected" {
		t.Error("unexpected State strings")
	}
	if PowerOn.String() != "on" || PowerOff.String() != "off" || PowerUnknown.String() != "unknown" {
		t.Error("unexpected Power strings")
	}
	if ModeColor.String() != "color" || ModeWhite.String() != "white" || ModeUnknown.String() != "unknown" {
		t.Error("unexpected ColorMode strings")
	}
}

func TestBrightnessRange(t *testing.T) {
	conn := NewConnection("C9:A3:05:11:22:33", "", newFakeBulb(), ConnectionOptions{})
	if conn.BrightnessRange() != 16 {
		t.Errorf("BrightnessRange() = %d, want 16", conn.BrightnessRange())
	}
}
