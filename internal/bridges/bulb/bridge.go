package bulb

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge operation constants.
const (
	// topicParts is the number of levels in command and request topics
	// (graylogic/{type}/bulb/{id}).
	topicParts = 4

	// defaultCommandTimeout bounds one MQTT command against a bulb.
	defaultCommandTimeout = 5 * time.Second

	// defaultStateInterval is how often cached bulb state is checked for
	// changes that happened without a command (heartbeat failures).
	defaultStateInterval = 2 * time.Second
)

// Bridge connects the discovery manager to Gray Logic Core over MQTT.
// It handles:
//   - Receiving commands from Core and applying them to bulb connections
//   - Publishing discovery announcements and retained bulb state
//   - Request/response reads (state, identification, vendor info)
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID       string
	commandTimeout time.Duration
	stateInterval  time.Duration

	mqtt      MQTTClient
	devices   DeviceSource
	telemetry TelemetryWriter
	health    *HealthReporter

	// State cache for change detection, keyed by address
	stateCache   map[string]map[string]any
	stateCacheMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Statistics
	statsMu          sync.Mutex
	commandsTotal    uint64
	commandsFailed   uint64
	statesPublished  uint64
	lastCommandError string

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// DeviceSource is the bulb registry the bridge serves. *Manager
// implements it.
type DeviceSource interface {
	Events() <-chan Event
	Device(address string) (*Connection, bool)
	Devices() []*Connection
	Count() int
	Err() error
}

// TelemetryWriter receives every published state change. Optional.
// Satisfied by *influxdb.Client.
type TelemetryWriter interface {
	WriteBulbState(address string, fields map[string]any)
	WriteBulbEvent(address, event string)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies the bridge in health and discovery messages.
	// Default: "bulb".
	BridgeID string

	// Version is reported in health messages.
	Version string

	// CommandTimeout bounds each command and request. Default: 5s.
	CommandTimeout time.Duration

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// StateInterval is how often cached state is re-checked. Default: 2s.
	StateInterval time.Duration

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Devices is the bulb registry, normally the discovery Manager.
	Devices DeviceSource

	// Telemetry is optional; nil disables time-series writes.
	Telemetry TelemetryWriter

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = Protocol
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.StateInterval <= 0 {
		opts.StateInterval = defaultStateInterval
	}

	// Bridge-level context for command cancellation on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:       opts.BridgeID,
		commandTimeout: opts.CommandTimeout,
		stateInterval:  opts.StateInterval,
		mqtt:           opts.MQTTClient,
		devices:        opts.Devices,
		telemetry:      opts.Telemetry,
		stateCache:     make(map[string]map[string]any),
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      ctxCancel,
		logger:         opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Devices:   opts.Devices,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Health returns the bridge's health reporter, for LWT setup.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to command and request topics, starts consuming
// registry events and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.wg.Add(2)
	go b.eventLoop()
	go b.stateLoop(ctx)

	b.health.Start(ctx)

	b.logInfo("bridge started", "bridge_id", b.bridgeID)
	return nil
}

// Stop gracefully shuts down the bridge. Stop the discovery manager first
// so its final removal events are still published.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// eventLoop publishes registry changes until the event stream closes.
func (b *Bridge) eventLoop() {
	defer b.wg.Done()

	events := b.devices.Events()
	for {
		select {
		case <-b.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handleEvent(ev)
		}
	}
}

func (b *Bridge) handleEvent(ev Event) {
	b.logInfo("bulb registry change",
		"event", ev.Type.String(),
		"address", ev.Address,
		"ready", ev.Snapshot.Ready())

	b.publishDiscovery(ev)
	b.publishState(ev.Snapshot, true)
	if b.telemetry != nil {
		b.telemetry.WriteBulbEvent(ev.Address, ev.Type.String())
	}

	if ev.Type == EventRemoved {
		b.stateCacheMu.Lock()
		delete(b.stateCache, ev.Address)
		b.stateCacheMu.Unlock()
	}

	b.health.SetDeviceCount(b.devices.Count())
}

// stateLoop republishes bulbs whose cached state changed outside a
// command, e.g. a heartbeat failure that disconnected the link.
func (b *Bridge) stateLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.stateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			for _, conn := range b.devices.Devices() {
				b.publishState(conn.Snapshot(), false)
			}
		}
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[2] != Protocol {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(strings.ToUpper(parts[3]), payload)
	case "request":
		b.handleRequest(parts[3], payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(address string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = address
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"address", address,
		"command", cmd.Command)

	b.statsMu.Lock()
	b.commandsTotal++
	b.statsMu.Unlock()

	conn, ok := b.devices.Device(address)
	if !ok {
		b.publishAckError(cmd, address, ErrCodeNotConfigured,
			fmt.Sprintf("bulb %s not in range", address))
		return
	}

	// Derive timeout from bridge context so commands are cancelled on shutdown
	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout)
	defer cancel()

	err := b.executeCommand(ctx, conn, cmd)

	// Failures tear the link down, so state is worth publishing either way.
	b.publishState(conn.Snapshot(), false)

	if err != nil {
		b.publishAckError(cmd, address, errorCode(err), err.Error())
		return
	}
	b.publishAck(cmd, address, AckAccepted)
}

// executeCommand applies one command to conn.
func (b *Bridge) executeCommand(ctx context.Context, conn *Connection, cmd CommandMessage) error {
	params := cmd.Parameters

	switch cmd.Command {
	case CommandOn:
		return conn.SetPower(ctx, true)
	case CommandOff:
		return conn.SetPower(ctx, false)
	case CommandWhite:
		return conn.SetColorMode(ctx, false)
	case CommandColor:
		return conn.SetColorMode(ctx, true)

	case CommandBrightness:
		level, err := intParam(params, "level")
		if err != nil {
			return err
		}
		return conn.SetBrightness(ctx, level)

	case CommandRGB:
		var ch [3]int
		for i, key := range []string{"r", "g", "b"} {
			v, err := intParam(params, key)
			if err != nil {
				return err
			}
			if v < 0 || v > math.MaxUint8 {
				return fmt.Errorf("%w: %s=%d outside [0, 255]", ErrInvalidArgument, key, v)
			}
			ch[i] = v
		}
		return conn.SetColorRGB(ctx, RGB{R: uint8(ch[0]), G: uint8(ch[1]), B: uint8(ch[2])})

	case CommandHSV:
		hue, err := floatParam(params, "hue")
		if err != nil {
			return err
		}
		return conn.SetColorHSV(ctx, hue, levelOrCurrent(params, conn))

	case CommandTemperature:
		kelvin, err := intParam(params, "kelvin")
		if err != nil {
			return err
		}
		return conn.SetWhiteTemperature(ctx, kelvin, levelOrCurrent(params, conn))

	case CommandParty:
		mode, err := intParam(params, "mode")
		if err != nil {
			return err
		}
		return conn.SetPartyMode(ctx, mode)

	case CommandConnect:
		if conn.IsReady() {
			return nil
		}
		return conn.Connect(ctx)
	case CommandDisconnect:
		return conn.Disconnect()
	case CommandRefresh:
		return conn.RefreshStatus(ctx)

	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, cmd.Command)
	}
}

var errUnknownCommand = errors.New("unknown command")

// errorCode maps a connection error to an ack error code. Timeouts are
// checked first because a timed-out transaction is also a protocol error.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrPrecondition):
		return ErrCodeNotReady
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, ErrConnection):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrProtocol):
		return ErrCodeProtocolError
	default:
		return ErrCodeBridgeError
	}
}

// intParam reads an integral parameter. JSON numbers arrive as float64.
func intParam(params map[string]any, key string) (int, error) {
	v, err := floatParam(params, key)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s=%v is not an integer", ErrInvalidArgument, key, v)
	}
	return int(v), nil
}

func floatParam(params map[string]any, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing parameter %q", ErrInvalidArgument, key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("%w: parameter %q has type %T", ErrInvalidArgument, key, raw)
	}
}

// levelOrCurrent returns the "level" parameter, or the bulb's current
// brightness (full if unknown) when it is absent. An invalid level is passed
// through so the connection rejects it.
func levelOrCurrent(params map[string]any, conn *Connection) int {
	if _, ok := params["level"]; ok {
		level, err := intParam(params, "level")
		if err != nil {
			return 0
		}
		return level
	}
	if level := conn.Brightness(); level > 0 {
		return level
	}
	return MaxBrightness
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	b.publishJSON(AckTopic(address), NewAckMessage(cmd, status, address), false)
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	b.statsMu.Lock()
	b.commandsFailed++
	b.lastCommandError = code
	b.statsMu.Unlock()

	b.publishJSON(AckTopic(address), NewAckError(cmd, address, code, message), false)

	b.logError("command failed",
		fmt.Errorf("address=%s code=%s message=%s", address, code, message))
}

func (b *Bridge) publishDiscovery(ev Event) {
	b.publishJSON(DiscoveryTopic(), NewDiscoveryMessage(b.bridgeID, ev), false)
}

// publishState publishes snap as retained state unless it matches the last
// published state for the bulb. force skips the comparison.
func (b *Bridge) publishState(snap Snapshot, force bool) {
	fields := StateFields(snap)
	if b.stateUnchanged(snap.Address, fields) && !force {
		return
	}

	b.publishJSON(StateTopic(snap.Address), NewStateMessage(snap.Address, snap), true)

	b.statsMu.Lock()
	b.statesPublished++
	b.statsMu.Unlock()

	if b.telemetry != nil {
		b.telemetry.WriteBulbState(snap.Address, fields)
	}
}

func (b *Bridge) publishJSON(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal message", fmt.Errorf("topic=%s: %w", topic, err))
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.logError("failed to publish", fmt.Errorf("topic=%s: %w", topic, err))
	}
}

// stateUnchanged reports whether state matches the cached state for
// address, and caches it if not.
func (b *Bridge) stateUnchanged(address string, state map[string]any) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if maps.Equal(b.stateCache[address], state) {
		return true
	}
	b.stateCache[address] = state
	return false
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(requestID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout)
	defer cancel()

	var (
		data map[string]any
		err  error
	)
	switch req.Action {
	case ActionReadAll:
		data = b.readAll()
	case ActionReadState:
		data, err = b.withDevice(req, func(conn *Connection) (map[string]any, error) {
			return StateFields(conn.Snapshot()), nil
		})
	case ActionReadIdentification:
		data, err = b.withDevice(req, func(conn *Connection) (map[string]any, error) {
			return rawResponse(conn.ReadIdentification(ctx))
		})
	case ActionReadVendorInfo:
		data, err = b.withDevice(req, func(conn *Connection) (map[string]any, error) {
			return rawResponse(conn.ReadVendorInfo(ctx))
		})
	default:
		err = fmt.Errorf("%w: %s", errUnknownCommand, req.Action)
	}

	resp := ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   err == nil,
		Data:      data,
	}
	if err != nil {
		resp.Data = nil
		resp.Error = &ResponseError{Code: requestErrorCode(err), Message: err.Error()}
	}

	b.publishJSON(ResponseTopic(req.RequestID), resp, false)
}

var errNotInRange = errors.New("bulb not in range")

func (b *Bridge) withDevice(req RequestMessage, fn func(*Connection) (map[string]any, error)) (map[string]any, error) {
	if req.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidArgument)
	}
	conn, ok := b.devices.Device(req.Address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNotInRange, strings.ToUpper(req.Address))
	}
	data, err := fn(conn)
	if err != nil {
		return nil, err
	}
	data["address"] = conn.Address()
	data["name"] = conn.Name()
	return data, nil
}

func (b *Bridge) readAll() map[string]any {
	conns := b.devices.Devices()
	bulbs := make([]map[string]any, 0, len(conns))
	for _, conn := range conns {
		state := StateFields(conn.Snapshot())
		state["address"] = conn.Address()
		state["name"] = conn.Name()
		bulbs = append(bulbs, state)
	}
	return map[string]any{"bulbs": bulbs, "count": len(bulbs)}
}

func rawResponse(payload []byte, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{"payload": hex.EncodeToString(payload)}, nil
}

func requestErrorCode(err error) string {
	if errors.Is(err, errNotInRange) {
		return ErrCodeNotConfigured
	}
	return errorCode(err)
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// BridgeMetrics contains bridge-level metrics.
type BridgeMetrics struct {
	Connected        bool
	Status           string
	DevicesManaged   int
	DevicesReady     int
	CommandsTotal    uint64
	CommandsFailed   uint64
	StatesPublished  uint64
	LastCommandError string
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	status, _ := b.health.determineStatus()

	ready := 0
	conns := b.devices.Devices()
	for _, conn := range conns {
		if conn.IsReady() {
			ready++
		}
	}

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return BridgeMetrics{
		Connected:        b.mqtt.IsConnected(),
		Status:           string(status),
		DevicesManaged:   len(conns),
		DevicesReady:     ready,
		CommandsTotal:    b.commandsTotal,
		CommandsFailed:   b.commandsFailed,
		StatesPublished:  b.statesPublished,
		LastCommandError: b.lastCommandError,
	}
}
