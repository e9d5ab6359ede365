package bulb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultHeartbeatInterval is the pause between keepalive transactions.
const defaultHeartbeatInterval = time.Second

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Dialer opens the byte stream to a bulb. The bluetooth package provides
// RFCOMM and serial implementations.
//
// If the returned stream implements SetDeadline(time.Time) error, context
// deadlines and cancellation are applied to in-flight transactions.
type Dialer interface {
	Dial(ctx context.Context, address string) (io.ReadWriteCloser, error)
}

// ConnectionOptions tunes a Connection.
type ConnectionOptions struct {
	// HeartbeatInterval is the pause after each heartbeat transaction.
	// Default: 1 second.
	HeartbeatInterval time.Duration

	// Logger receives connection lifecycle and failure logs. Optional.
	Logger Logger
}

// deadliner is implemented by streams that support I/O deadlines
// (net.Conn, *os.File opened non-blocking).
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Connection is one session with one bulb.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - A request frame and its response are exchanged under a single lock,
//     so the heartbeat worker and control operations never interleave on
//     the wire.
//   - Cached state is guarded separately and may be read while a
//     transaction is in flight.
//
// Lifecycle:
//
//	Disconnected ──Connect──► Connecting ──handshake ok──► Ready
//	      ▲                        │                         │
//	      └──── Disconnect / any transaction failure ────────┘
type Connection struct {
	address           string
	name              string
	dialer            Dialer
	heartbeatInterval time.Duration

	// txMu is held for a whole request/response exchange.
	txMu sync.Mutex

	// connectMu serialises Connect calls.
	connectMu sync.Mutex

	// Cached state, guarded by mu.
	mu             sync.RWMutex
	state          State
	stream         io.ReadWriteCloser
	heartbeat      *heartbeat
	power          Power
	mode           ColorMode
	brightness     int
	color          RGB
	connectedSince time.Time

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	transactionsTotal atomic.Uint64
	heartbeatsTotal   atomic.Uint64
	errorsTotal       atomic.Uint64
	connectsTotal     atomic.Uint64
	lastActivity      atomic.Int64 // Unix timestamp
}

// request is one framed exchange. minResponse is the shortest payload the
// caller can parse; a shorter response is a protocol failure.
type request struct {
	function    byte
	payload     []byte
	minResponse int
}

// NewConnection creates a disconnected Connection. Call Connect to open it.
//
// Parameters:
//   - address: Bluetooth address, e.g. "C9:A3:05:11:22:33" (uppercased)
//   - name: Human-readable device name (may be empty)
//   - dialer: Transport used by Connect
//   - opts: Tuning; zero value uses defaults
func NewConnection(address, name string, dialer Dialer, opts ConnectionOptions) *Connection {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Connection{
		address:           strings.ToUpper(address),
		name:              name,
		dialer:            dialer,
		heartbeatInterval: opts.HeartbeatInterval,
		logger:            opts.Logger,
	}
}

// Address returns the bulb's Bluetooth address.
func (c *Connection) Address() string { return c.address }

// Name returns the device name reported during discovery.
func (c *Connection) Name() string { return c.name }

// SetLogger sets the logger for connection events.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Connect opens the transport and runs the handshake:
//
//  1. write the ASCII handshake "01234567" (unframed)
//  2. start the heartbeat worker
//  3. read the current mode, brightness and colour
//  4. force power on, since the power state cannot be read
//
// Parameters:
//   - ctx: Bounds the dial and every handshake transaction
//
// Returns:
//   - error: ErrPrecondition if not disconnected; ErrConnection wrapping
//     the cause if the dial or any handshake step fails. On failure the
//     connection is disconnected.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrPrecondition, c.address, state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logInfo("connecting to bulb", "address", c.address)

	stream, err := c.dialer.Dial(ctx, c.address)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: dialing %s: %w", ErrConnection, c.address, err)
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	if hb, err := c.handshake(ctx, stream); err != nil {
		_ = c.teardown(stream)
		if hb != nil {
			hb.wait()
		}
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: handshake with %s: %w", ErrConnection, c.address, err)
	}

	c.mu.Lock()
	if c.stream != stream {
		// The heartbeat failed after the last handshake step.
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: link lost during handshake", ErrConnection, c.address)
	}
	c.state = StateReady
	c.connectedSince = time.Now()
	mode, brightness := c.mode, c.brightness
	c.mu.Unlock()

	c.connectsTotal.Add(1)
	c.logInfo("bulb ready",
		"address", c.address,
		"mode", mode.String(),
		"brightness", brightness,
	)
	return nil
}

func (c *Connection) handshake(ctx context.Context, stream io.ReadWriteCloser) (*heartbeat, error) {
	if err := c.writeRaw(ctx, stream, handshakeMagic); err != nil {
		return nil, err
	}

	hb := c.startHeartbeat(stream)

	if err := c.readStatus(ctx); err != nil {
		return hb, fmt.Errorf("reading status: %w", err)
	}
	if err := c.setPower(ctx, true); err != nil {
		return hb, fmt.Errorf("forcing power on: %w", err)
	}
	return hb, nil
}

// Disconnect closes the transport, stops the heartbeat worker and clears
// cached state. It is idempotent and safe to call in any state.
//
// Disconnect does not abort a dial in progress; cancel the context passed
// to Connect for that.
func (c *Connection) Disconnect() error {
	c.mu.RLock()
	stream := c.stream
	hb := c.heartbeat
	c.mu.RUnlock()

	if stream == nil {
		return nil
	}

	c.logInfo("disconnecting from bulb", "address", c.address)
	err := c.teardown(stream)

	// Closing the stream unblocks a heartbeat stuck in a read, so the wait
	// is bounded.
	if hb != nil {
		hb.wait()
	}
	return err
}

// teardown closes stream and resets the connection if stream is still the
// current one. It never blocks on the heartbeat worker.
func (c *Connection) teardown(stream io.ReadWriteCloser) error {
	c.mu.Lock()
	if c.stream != stream || stream == nil {
		c.mu.Unlock()
		return nil
	}
	hb := c.heartbeat
	c.stream = nil
	c.heartbeat = nil
	c.state = StateDisconnected
	c.power = PowerUnknown
	c.mode = ModeUnknown
	c.brightness = 0
	c.color = RGB{}
	c.connectedSince = time.Time{}
	c.mu.Unlock()

	if hb != nil {
		hb.signal()
	}

	if err := stream.Close(); err != nil {
		return fmt.Errorf("closing stream: %w", err)
	}
	return nil
}

// Transact sends one request frame and returns the response payload.
// The connection must be ready.
//
// A mismatched function code in the response is logged, not rejected.
// Any I/O or framing failure tears the connection down and returns
// ErrProtocol. If ctx is already done, ctx.Err() is returned and nothing
// is sent.
func (c *Connection) Transact(ctx context.Context, function byte, payload []byte) ([]byte, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}
	return c.transact(ctx, request{function: function, payload: payload})
}

// transact runs req on the current stream. It is allowed while connecting
// so the handshake can use it.
func (c *Connection) transact(ctx context.Context, req request) ([]byte, error) {
	return c.exchange(ctx, nil, req)
}

// exchange runs req under the wire lock. When want is non-nil the
// exchange only proceeds if want is still the current stream.
func (c *Connection) exchange(ctx context.Context, want io.ReadWriteCloser, req request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := EncodeRequest(req.function, req.payload)
	if err != nil {
		return nil, err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	c.mu.RLock()
	stream := c.stream
	c.mu.RUnlock()

	if stream == nil || (want != nil && stream != want) {
		return nil, fmt.Errorf("%w: %s is not connected", ErrPrecondition, c.address)
	}

	release := bindContext(ctx, stream)
	defer release()

	if _, err := stream.Write(frame); err != nil {
		return nil, c.fail(stream, fmt.Errorf("writing function 0x%02X: %w", req.function, err))
	}

	resp, err := ReadResponse(stream)
	if err != nil {
		return nil, c.fail(stream, fmt.Errorf("reading function 0x%02X response: %w", req.function, err))
	}
	if resp.Function != req.function {
		c.logWarn("response function code mismatch",
			"address", c.address,
			"sent", fmt.Sprintf("0x%02X", req.function),
			"received", fmt.Sprintf("0x%02X", resp.Function),
		)
	}
	if len(resp.Payload) < req.minResponse {
		return nil, c.fail(stream, fmt.Errorf("%w: function 0x%02X response is %d bytes, need %d",
			ErrInvalidFrame, req.function, len(resp.Payload), req.minResponse))
	}

	c.transactionsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return resp.Payload, nil
}

// writeRaw writes bytes outside the frame format under the wire lock.
func (c *Connection) writeRaw(ctx context.Context, want io.ReadWriteCloser, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	c.mu.RLock()
	stream := c.stream
	c.mu.RUnlock()
	if stream == nil || stream != want {
		return fmt.Errorf("%w: %s is not connected", ErrPrecondition, c.address)
	}

	release := bindContext(ctx, stream)
	defer release()

	if _, err := stream.Write(data); err != nil {
		return c.fail(stream, fmt.Errorf("writing handshake: %w", err))
	}
	return nil
}

// fail tears the connection down after a transaction failure.
func (c *Connection) fail(stream io.ReadWriteCloser, err error) error {
	c.errorsTotal.Add(1)
	c.logError("transaction failed, disconnecting from "+c.address, err)
	_ = c.teardown(stream)
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

// bindContext applies ctx's deadline and cancellation to stream if it
// supports deadlines. The returned func must be called once the exchange
// finishes; it clears the deadline again.
func bindContext(ctx context.Context, stream io.ReadWriteCloser) func() {
	d, ok := stream.(deadliner)
	if !ok || ctx.Done() == nil {
		return func() {}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = d.SetDeadline(deadline)
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = d.SetDeadline(time.Now())
	})

	return func() {
		if !stop() {
			<-fired
		}
		_ = d.SetDeadline(time.Time{})
	}
}

// update applies fn to the cached state if the connection is still open.
// A late result from an exchange that raced with teardown is dropped.
func (c *Connection) update(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return
	}
	fn()
}

func (c *Connection) checkReady() error {
	if state := c.State(); state != StateReady {
		return fmt.Errorf("%w: %s is %s", ErrPrecondition, c.address, state)
	}
	return nil
}

// ─── Status ─────────────────────────────────────────────────────────

// RefreshStatus re-reads mode, brightness and colour from the bulb.
func (c *Connection) RefreshStatus(ctx context.Context) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	return c.readStatus(ctx)
}

func (c *Connection) readStatus(ctx context.Context) error {
	resp, err := c.transact(ctx, request{
		function:    FuncStatus,
		payload:     statusQueryPayload(groupWhite),
		minResponse: statusModeResponseLen,
	})
	if err != nil {
		return err
	}

	switch resp[statusModeOffset] {
	case groupWhite:
		level := int(resp[statusBrightnessOffset])
		c.update(func() {
			c.mode = ModeWhite
			c.brightness = level
			c.color = White
		})
		c.logDebug("status read", "address", c.address, "mode", ModeWhite.String(), "brightness", level)

	case groupColor:
		resp, err = c.transact(ctx, request{
			function:    FuncStatus,
			payload:     statusQueryPayload(groupColor),
			minResponse: statusColorResponseLen,
		})
		if err != nil {
			return err
		}
		raw := RGB{R: resp[statusColorOffset], G: resp[statusColorOffset+1], B: resp[statusColorOffset+2]}
		level, base := NormalizeColorBrightness(raw)
		c.update(func() {
			c.mode = ModeColor
			c.brightness = level
			c.color = base
		})
		c.logDebug("status read", "address", c.address, "mode", ModeColor.String(), "color", raw.String())

	default:
		c.logWarn("unrecognised mode in status response",
			"address", c.address,
			"mode", fmt.Sprintf("0x%02X", resp[statusModeOffset]),
		)
	}
	return nil
}

// ReadVendorInfo returns the raw payload of the vendor information
// request (function 0x00). Its layout is undocumented.
func (c *Connection) ReadVendorInfo(ctx context.Context) ([]byte, error) {
	return c.Transact(ctx, FuncVendorInfo, heartbeatPayload)
}

// ReadIdentification returns the raw identification payload (function
// 0x80). It carries at least the device name.
func (c *Connection) ReadIdentification(ctx context.Context) ([]byte, error) {
	return c.Transact(ctx, FuncIdentification, identificationPayload)
}

// ─── Control ────────────────────────────────────────────────────────

// SetPower switches the bulb on or off. No frame is sent if the cached
// power state already matches.
func (c *Connection) SetPower(ctx context.Context, on bool) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	return c.setPower(ctx, on)
}

func (c *Connection) setPower(ctx context.Context, on bool) error {
	c.mu.RLock()
	power, mode := c.power, c.mode
	c.mu.RUnlock()

	if power == powerFrom(on) {
		return nil
	}

	if _, err := c.transact(ctx, request{
		function: FuncStatus,
		payload:  powerModePayload(mode == ModeColor, on),
	}); err != nil {
		return err
	}

	c.update(func() { c.power = powerFrom(on) })
	c.logDebug("power set", "address", c.address, "on", on)
	return nil
}

// SetColorMode switches between white and colour mode. No frame is sent if
// the cached mode already matches. Switching to white pins the base colour
// to white.
func (c *Connection) SetColorMode(ctx context.Context, color bool) error {
	if err := c.checkReady(); err != nil {
		return err
	}

	c.mu.RLock()
	power, mode := c.power, c.mode
	c.mu.RUnlock()

	if mode == modeFrom(color) {
		return nil
	}

	if _, err := c.transact(ctx, request{
		function: FuncStatus,
		payload:  powerModePayload(color, power == PowerOn),
	}); err != nil {
		return err
	}

	c.update(func() {
		c.mode = modeFrom(color)
		if !color {
			c.color = White
		}
	})
	return nil
}

// SetBrightness sets the brightness level in [MinBrightness, MaxBrightness].
//
// In white mode the level is written directly. In colour mode the cached
// base colour is scaled by level/16 and written as a colour, so the hue is
// kept.
func (c *Connection) SetBrightness(ctx context.Context, level int) error {
	if !validLevel(level) {
		return fmt.Errorf("%w: brightness %d outside [%d, %d]", ErrInvalidArgument, level, MinBrightness, MaxBrightness)
	}
	if err := c.checkReady(); err != nil {
		return err
	}

	c.mu.RLock()
	mode, base := c.mode, c.color
	c.mu.RUnlock()

	if mode == ModeColor {
		return c.setColorRGB(ctx, ScaleColor(base, level))
	}

	if _, err := c.transact(ctx, request{
		function: FuncStatus,
		payload:  brightnessPayload(level),
	}); err != nil {
		return err
	}

	c.update(func() { c.brightness = level })
	return nil
}

// SetColorRGB writes a colour and switches the cached mode to colour. The
// cached brightness and base colour come from NormalizeColorBrightness.
func (c *Connection) SetColorRGB(ctx context.Context, color RGB) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	return c.setColorRGB(ctx, color)
}

func (c *Connection) setColorRGB(ctx context.Context, color RGB) error {
	if _, err := c.transact(ctx, request{
		function: FuncStatus,
		payload:  colorPayload(color),
	}); err != nil {
		return err
	}

	level, base := NormalizeColorBrightness(color)
	c.update(func() {
		c.mode = ModeColor
		c.brightness = level
		c.color = base
	})
	c.logDebug("color set", "address", c.address, "color", color.String())
	return nil
}

// SetColorHSV writes a fully saturated colour of the given hue (degrees,
// wrapped modulo 360) at the given brightness level.
func (c *Connection) SetColorHSV(ctx context.Context, hue float64, level int) error {
	if !validLevel(level) {
		return fmt.Errorf("%w: brightness %d outside [%d, %d]", ErrInvalidArgument, level, MinBrightness, MaxBrightness)
	}
	if err := c.checkReady(); err != nil {
		return err
	}
	rgb := HSVToRGB(HSV{Hue: hue, Sat: 1, Val: float64(level) / MaxBrightness})
	return c.setColorRGB(ctx, rgb)
}

// SetWhiteTemperature writes the colour of a black body at kelvin
// (clamped to [1000, 40000]) at the given brightness level.
func (c *Connection) SetWhiteTemperature(ctx context.Context, kelvin, level int) error {
	if !validLevel(level) {
		return fmt.Errorf("%w: brightness %d outside [%d, %d]", ErrInvalidArgument, level, MinBrightness, MaxBrightness)
	}
	if err := c.checkReady(); err != nil {
		return err
	}
	return c.setColorRGB(ctx, TemperatureToRGB(kelvin, level))
}

// MaxPartyMode is the highest built-in animation index.
const MaxPartyMode = 6

// SetPartyMode starts one of the bulb's built-in animations (0-6). The
// cached mode becomes colour.
func (c *Connection) SetPartyMode(ctx context.Context, mode int) error {
	if mode < 0 || mode > MaxPartyMode {
		return fmt.Errorf("%w: party mode %d outside [0, %d]", ErrInvalidArgument, mode, MaxPartyMode)
	}
	if err := c.checkReady(); err != nil {
		return err
	}

	if _, err := c.transact(ctx, request{
		function: FuncStatus,
		payload:  partyModePayload(mode),
	}); err != nil {
		return err
	}

	c.update(func() { c.mode = ModeColor })
	return nil
}

// ─── Queries ────────────────────────────────────────────────────────

// State returns the lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsReady reports whether control operations are accepted.
func (c *Connection) IsReady() bool {
	return c.State() == StateReady
}

// Power returns the cached power state.
func (c *Connection) Power() Power {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.power
}

// IsPoweredOn reports whether the bulb is known to be on.
func (c *Connection) IsPoweredOn() bool {
	return c.Power() == PowerOn
}

// Mode returns the cached operating mode.
func (c *Connection) Mode() ColorMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// IsColorMode reports whether the bulb is known to be in colour mode.
func (c *Connection) IsColorMode() bool {
	return c.Mode() == ModeColor
}

// Brightness returns the cached brightness level; 0 if unknown.
func (c *Connection) Brightness() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.brightness
}

// BrightnessRange returns the number of discrete brightness steps.
func (c *Connection) BrightnessRange() int {
	return MaxBrightness
}

// ColorRGB returns the cached base colour; the zero RGB if unknown.
func (c *Connection) ColorRGB() RGB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.color
}

// ColorHSV returns the cached base colour in HSV form.
func (c *Connection) ColorHSV() HSV {
	return RGBToHSV(c.ColorRGB())
}

// Snapshot returns a consistent copy of the cached state.
func (c *Connection) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Address:    c.address,
		Name:       c.name,
		State:      c.state,
		Power:      c.power,
		Mode:       c.mode,
		Brightness: c.brightness,
		Color:      c.color,
	}
}

// Stats returns operational statistics.
func (c *Connection) Stats() ConnectionStats {
	c.mu.RLock()
	state, since := c.state, c.connectedSince
	c.mu.RUnlock()

	var last time.Time
	if ts := c.lastActivity.Load(); ts != 0 {
		last = time.Unix(ts, 0)
	}

	return ConnectionStats{
		TransactionsTotal: c.transactionsTotal.Load(),
		HeartbeatsTotal:   c.heartbeatsTotal.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
		ConnectsTotal:     c.connectsTotal.Load(),
		LastActivity:      last,
		ConnectedSince:    since,
		State:             state,
	}
}

// String implements fmt.Stringer.
func (c *Connection) String() string {
	return fmt.Sprintf("bulb %s (%s)", c.address, c.State())
}

// ─── Logging ────────────────────────────────────────────────────────

func (c *Connection) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Connection) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Connection) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Connection) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Connection) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// isBenign reports whether err is an expected end of a heartbeat loop
// (the connection was closed underneath it).
func isBenign(err error) bool {
	return errors.Is(err, ErrPrecondition) || errors.Is(err, context.Canceled)
}
