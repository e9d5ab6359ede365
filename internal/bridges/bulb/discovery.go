package bulb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-bulb/internal/bluetooth"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// defaultScanDurations is the round-robin sequence of inquiry windows.
// Short windows pick up nearby bulbs quickly; longer ones catch weak
// signals.
var defaultScanDurations = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// DefaultAddressPrefixes are the vendor address ranges used by the bulbs.
var DefaultAddressPrefixes = []string{"C9:7", "C9:8", "C9:A"}

// defaultEventBuffer is the capacity of the Events channel.
const defaultEventBuffer = 64

// Scanner runs one inquiry and returns every device in range.
// *bluetooth.BlueZ and *bluetooth.StaticScanner implement it.
type Scanner interface {
	Scan(ctx context.Context, duration time.Duration) ([]bluetooth.Device, error)
}

// SightingRecorder persists discovery sightings. Optional.
type SightingRecorder interface {
	RecordSighting(address, name string, connectErr error)
}

// EventType distinguishes registry changes.
type EventType int

const (
	// EventAdded is emitted when a bulb enters range and a connection has
	// been attempted.
	EventAdded EventType = iota + 1

	// EventRemoved is emitted after a bulb left range (or the manager
	// stopped) and its connection was closed.
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event reports a registry change.
type Event struct {
	Type    EventType
	Address string
	Name    string

	// Conn is the registered connection. After EventRemoved it is
	// disconnected.
	Conn *Connection

	// ConnectErr is the error from the initial Connect on EventAdded, nil
	// if the bulb came up ready.
	ConnectErr error

	// Snapshot is the cached bulb state when the event was emitted.
	Snapshot Snapshot

	Timestamp time.Time
}

// Present reports whether the event announces a bulb in range.
func (e Event) Present() bool {
	return e.Type == EventAdded
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Scanner runs inquiries. Required.
	Scanner Scanner

	// Dialer is handed to each new Connection. Required.
	Dialer Dialer

	// AddressPrefixes filters discovered devices (case-insensitive).
	// Default: DefaultAddressPrefixes.
	AddressPrefixes []string

	// ScanDurations is the round-robin inquiry window sequence.
	// Default: 1s, 2s, 4s, 8s.
	ScanDurations []time.Duration

	// Connection options for every bulb.
	Connection ConnectionOptions

	// Recorder receives a call per qualifying sighting. Optional.
	Recorder SightingRecorder

	// EventBuffer is the Events channel capacity. Default: 64.
	EventBuffer int

	// Logger (optional)
	Logger Logger
}

// Manager keeps one Connection per bulb in range.
//
// A background loop runs inquiries with round-robin durations and
// reconciles the registry after each one: new bulbs are connected and
// announced, bulbs no longer reported are disconnected and announced as
// removed. Bulbs that stay in range keep their connection untouched, even
// if it has failed; reconnecting is the caller's decision.
//
// Thread Safety:
//   - Registry lookups (Device, Devices, Count) are safe from any goroutine.
//   - Events are delivered on a single channel in registry order. Sends
//     block, so the consumer must drain Events until it is closed.
type Manager struct {
	cfg ManagerConfig

	mu      sync.RWMutex
	devices map[string]*Connection

	events chan Event

	startMu  sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     *closeOnce
	wg       sync.WaitGroup
	stopOnce sync.Once

	errMu sync.RWMutex
	err   error

	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager validates cfg and returns a stopped Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("bulb: scanner is required")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("bulb: dialer is required")
	}
	if len(cfg.AddressPrefixes) == 0 {
		cfg.AddressPrefixes = DefaultAddressPrefixes
	}
	if len(cfg.ScanDurations) == 0 {
		cfg.ScanDurations = defaultScanDurations
	}
	for _, d := range cfg.ScanDurations {
		if d <= 0 {
			return nil, fmt.Errorf("bulb: scan duration %v must be positive", d)
		}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Connection.Logger == nil {
		cfg.Connection.Logger = cfg.Logger
	}

	return &Manager{
		cfg:     cfg,
		devices: make(map[string]*Connection),
		events:  make(chan Event, cfg.EventBuffer),
		done:    newCloseOnce(),
		logger:  cfg.Logger,
	}, nil
}

// SetLogger sets the logger for discovery events.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// Start launches the discovery loop. The loop ends when ctx is cancelled,
// Stop is called, or a scan fails (see Err).
func (m *Manager) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.scanLoop(loopCtx)

	m.logInfo("bulb discovery started",
		"prefixes", strings.Join(m.cfg.AddressPrefixes, ","),
		"scan_durations", fmt.Sprint(m.cfg.ScanDurations),
	)
	return nil
}

// Stop ends the discovery loop, disconnects every registered bulb, emits
// EventRemoved for each, and closes Events. It is idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.startMu.Lock()
		cancel := m.cancel
		m.started = true // a stopped manager cannot be restarted
		m.startMu.Unlock()

		if cancel != nil {
			cancel()
		}
		m.wg.Wait()
		m.done.Close()

		for _, conn := range m.Devices() {
			m.remove(conn)
		}

		close(m.events)
		m.logInfo("bulb discovery stopped")
	})
}

// Events returns the registry change stream. It is closed by Stop.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Done is closed when the discovery loop has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done.Done()
}

// Err returns the scan failure that stopped the loop, or nil.
func (m *Manager) Err() error {
	m.errMu.RLock()
	defer m.errMu.RUnlock()
	return m.err
}

// Device returns the connection for address, if registered.
func (m *Manager) Device(address string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.devices[strings.ToUpper(address)]
	return conn, ok
}

// Devices returns the registered connections sorted by address.
func (m *Manager) Devices() []*Connection {
	m.mu.RLock()
	out := make([]*Connection, 0, len(m.devices))
	for _, conn := range m.devices {
		out = append(out, conn)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out
}

// Count returns the number of registered bulbs.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

func (m *Manager) scanLoop(ctx context.Context) {
	defer m.wg.Done()
	defer m.done.Close()

	for cycle := 0; ; cycle++ {
		if ctx.Err() != nil {
			return
		}

		duration := m.cfg.ScanDurations[cycle%len(m.cfg.ScanDurations)]
		found, err := m.cfg.Scanner.Scan(ctx, duration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.errMu.Lock()
			m.err = fmt.Errorf("%w: %w", ErrScanFailed, err)
			m.errMu.Unlock()
			m.logError("bulb scan failed, discovery stopped", err)
			return
		}

		m.reconcile(ctx, found)
	}
}

// reconcile connects newly seen bulbs and drops ones no longer in range.
func (m *Manager) reconcile(ctx context.Context, found []bluetooth.Device) {
	present := make(map[string]bool, len(found))

	for _, dev := range found {
		address := strings.ToUpper(dev.Address)
		if !bluetooth.MatchesAny(address, m.cfg.AddressPrefixes) || present[address] {
			continue
		}
		present[address] = true

		if _, known := m.Device(address); known {
			m.record(address, dev.Name, nil)
			continue
		}

		conn := NewConnection(address, dev.Name, m.cfg.Dialer, m.cfg.Connection)
		connectErr := conn.Connect(ctx)
		if connectErr != nil {
			m.logWarn("bulb found but connect failed", "address", address, "error", connectErr)
		} else {
			m.logInfo("bulb added", "address", address, "name", dev.Name)
		}

		m.mu.Lock()
		m.devices[address] = conn
		m.mu.Unlock()

		m.record(address, dev.Name, connectErr)
		m.emit(Event{
			Type:       EventAdded,
			Address:    address,
			Name:       dev.Name,
			Conn:       conn,
			ConnectErr: connectErr,
			Snapshot:   conn.Snapshot(),
			Timestamp:  time.Now(),
		})
	}

	for _, conn := range m.Devices() {
		if !present[conn.Address()] {
			m.logInfo("bulb out of range", "address", conn.Address())
			m.remove(conn)
		}
	}
}

// remove disconnects conn, drops it from the registry and announces it.
func (m *Manager) remove(conn *Connection) {
	if err := conn.Disconnect(); err != nil {
		m.logWarn("error disconnecting bulb", "address", conn.Address(), "error", err)
	}

	m.mu.Lock()
	delete(m.devices, conn.Address())
	m.mu.Unlock()

	m.emit(Event{
		Type:      EventRemoved,
		Address:   conn.Address(),
		Name:      conn.Name(),
		Conn:      conn,
		Snapshot:  conn.Snapshot(),
		Timestamp: time.Now(),
	})
}

func (m *Manager) emit(ev Event) {
	m.events <- ev
}

func (m *Manager) record(address, name string, connectErr error) {
	if m.cfg.Recorder != nil {
		m.cfg.Recorder.RecordSighting(address, name, connectErr)
	}
}

// ─── Logging ────────────────────────────────────────────────────────

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (m *Manager) logError(msg string, err error) {
	if logger := m.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
