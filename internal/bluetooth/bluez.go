package bluetooth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// BlueZ D-Bus names.
const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
	dbusProperties    = "org.freedesktop.DBus.Properties"

	defaultAdapter = "hci0"
)

// Device is one Bluetooth Classic device reported by an inquiry.
type Device struct {
	Address   string
	Name      string
	RSSI      int16
	Connected bool
	UUIDs     []string
}

// HasService reports whether the device advertises the service class.
func (d Device) HasService(uuid string) bool {
	for _, u := range d.UUIDs {
		if strings.EqualFold(u, uuid) {
			return true
		}
	}
	return false
}

// BlueZ runs inquiries and service lookups through the BlueZ daemon.
//
// The system bus connection is shared process-wide by godbus and is never
// closed here.
type BlueZ struct {
	conn        *dbus.Conn
	adapter     string
	adapterPath dbus.ObjectPath
}

// NewBlueZ connects to the system bus and checks that the adapter exists
// and is powered.
//
// Parameters:
//   - adapter: HCI adapter name, e.g. "hci0" (empty uses hci0)
//
// Returns:
//   - *BlueZ: Ready for Scan and LookupService
//   - error: ErrAdapterUnavailable if the bus or adapter is unusable
func NewBlueZ(adapter string) (*BlueZ, error) {
	if adapter == "" {
		adapter = defaultAdapter
	}
	if strings.ContainsAny(adapter, "/.") {
		return nil, fmt.Errorf("%w: invalid adapter name %q", ErrAdapterUnavailable, adapter)
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to system bus: %w", ErrAdapterUnavailable, err)
	}

	b := &BlueZ{
		conn:        conn,
		adapter:     adapter,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapter),
	}

	powered, err := getDBusProperty[bool](conn, b.adapterPath, bluezAdapter1, "Powered")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAdapterUnavailable, adapter, err)
	}
	if !powered {
		return nil, fmt.Errorf("%w: %s is not powered", ErrAdapterUnavailable, adapter)
	}

	return b, nil
}

// Scan runs a BR/EDR inquiry for duration (or until ctx is done) and
// returns the devices currently in range, sorted by address.
//
// A device counts as in range if it is connected or BlueZ reported an RSSI
// for it during the inquiry window. BlueZ drops RSSI values when discovery
// stops, so sightings are collected from signals and the object tree is
// read before StopDiscovery.
func (b *BlueZ) Scan(ctx context.Context, duration time.Duration) ([]Device, error) {
	adapterObj := b.conn.Object(bluezBus, b.adapterPath)

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("bredr"),
	}
	if call := adapterObj.CallWithContext(ctx, bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return nil, fmt.Errorf("setting discovery filter on %s: %w", b.adapter, call.Err)
	}

	watch, err := b.watchSightings()
	if err != nil {
		return nil, err
	}
	defer watch.stop()

	started := true
	if call := adapterObj.CallWithContext(ctx, bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		// Another client may already be discovering; its results are
		// visible through the object tree all the same.
		if !isInProgress(call.Err) {
			return nil, fmt.Errorf("starting discovery on %s: %w", b.adapter, call.Err)
		}
		started = false
	}

	timer := time.NewTimer(duration)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}

	objects, listErr := b.managedObjects(ctx)
	if started {
		// StopDiscovery must run even when ctx is cancelled.
		adapterObj.Call(bluezAdapter1+".StopDiscovery", 0)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if listErr != nil {
		return nil, listErr
	}
	return devicesFromObjects(b.adapterPath, objects, watch.sighted()), nil
}

// sightingWatch records device paths that reported an RSSI while it runs.
type sightingWatch struct {
	conn   *dbus.Conn
	rules  []string
	ch     chan *dbus.Signal
	done   chan struct{}
	wg     sync.WaitGroup
	prefix string

	mu    sync.Mutex
	paths map[dbus.ObjectPath]bool
}

func (b *BlueZ) watchSightings() (*sightingWatch, error) {
	w := &sightingWatch{
		conn: b.conn,
		rules: []string{
			fmt.Sprintf("type='signal',sender='%s',interface='%s',member='InterfacesAdded'",
				bluezBus, dbusObjectManager),
			fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',path_namespace='%s'",
				bluezBus, dbusProperties, b.adapterPath),
		},
		ch:     make(chan *dbus.Signal, 64),
		done:   make(chan struct{}),
		prefix: string(b.adapterPath) + "/",
		paths:  make(map[dbus.ObjectPath]bool),
	}

	for i, rule := range w.rules {
		if call := b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
			w.removeMatches(w.rules[:i])
			return nil, fmt.Errorf("adding signal match on %s: %w", b.adapter, call.Err)
		}
	}

	b.conn.Signal(w.ch)
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *sightingWatch) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case sig, ok := <-w.ch:
			if !ok {
				return
			}
			if path, seen := sightedPath(sig, w.prefix); seen {
				w.mu.Lock()
				w.paths[path] = true
				w.mu.Unlock()
			}
		}
	}
}

func (w *sightingWatch) sighted() map[dbus.ObjectPath]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[dbus.ObjectPath]bool, len(w.paths))
	for p := range w.paths {
		out[p] = true
	}
	return out
}

func (w *sightingWatch) stop() {
	w.conn.RemoveSignal(w.ch)
	close(w.done)
	w.wg.Wait()
	w.removeMatches(w.rules)
}

func (w *sightingWatch) removeMatches(rules []string) {
	for _, rule := range rules {
		w.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}
}

// sightedPath returns the device path of an InterfacesAdded or
// PropertiesChanged signal that carries an RSSI for a device under prefix.
func sightedPath(sig *dbus.Signal, prefix string) (dbus.ObjectPath, bool) {
	if sig == nil {
		return "", false
	}

	var (
		path  dbus.ObjectPath
		props map[string]dbus.Variant
	)
	switch sig.Name {
	case dbusObjectManager + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return "", false
		}
		p, ok := sig.Body[0].(dbus.ObjectPath)
		ifaces, ok2 := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok || !ok2 {
			return "", false
		}
		path, props = p, ifaces[bluezDevice1]
	case dbusProperties + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return "", false
		}
		iface, ok := sig.Body[0].(string)
		changed, ok2 := sig.Body[1].(map[string]dbus.Variant)
		if !ok || !ok2 || iface != bluezDevice1 {
			return "", false
		}
		path, props = sig.Path, changed
	default:
		return "", false
	}

	if !strings.HasPrefix(string(path), prefix) {
		return "", false
	}
	if _, ok := props["RSSI"]; !ok {
		return "", false
	}
	return path, true
}

// LookupService reports whether the device at address advertises the
// service class uuid, as cached by BlueZ from its last SDP query.
func (b *BlueZ) LookupService(_ context.Context, address, uuid string) (bool, error) {
	path := adapterDevicePath(b.adapter, address)
	uuids, err := getDBusProperty[[]string](b.conn, path, bluezDevice1, "UUIDs")
	if err != nil {
		return false, fmt.Errorf("reading services of %s: %w", address, err)
	}
	return Device{UUIDs: uuids}.HasService(uuid), nil
}

func (b *BlueZ) managedObjects(ctx context.Context) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	root := b.conn.Object(bluezBus, "/")
	call := root.CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("listing BlueZ objects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decoding BlueZ objects: %w", err)
	}
	return objects, nil
}

// devicesFromObjects extracts the in-range devices under adapterPath from
// a GetManagedObjects reply. A device is in range if it has an RSSI, is
// connected, or its path is in sighted.
func devicesFromObjects(adapterPath dbus.ObjectPath, objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, sighted map[dbus.ObjectPath]bool) []Device {
	prefix := string(adapterPath) + "/"
	var devices []Device

	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[bluezDevice1]
		if !ok {
			continue
		}

		address, ok := variantValue[string](props, "Address")
		if !ok {
			continue
		}
		rssi, hasRSSI := variantValue[int16](props, "RSSI")
		connected, _ := variantValue[bool](props, "Connected")
		if !hasRSSI && !connected && !sighted[path] {
			continue
		}

		name, _ := variantValue[string](props, "Name")
		uuids, _ := variantValue[[]string](props, "UUIDs")

		devices = append(devices, Device{
			Address:   strings.ToUpper(address),
			Name:      name,
			RSSI:      rssi,
			Connected: connected,
			UUIDs:     uuids,
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices
}

func isInProgress(err error) bool {
	var dbusErr dbus.Error
	if e, ok := err.(dbus.Error); ok {
		dbusErr = e
	} else if e, ok := err.(*dbus.Error); ok {
		dbusErr = *e
	}
	return dbusErr.Name == "org.bluez.Error.InProgress"
}

// adapterDevicePath returns the BlueZ object path for a device
// ("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF").
func adapterDevicePath(adapter, address string) dbus.ObjectPath {
	devAddr := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, devAddr))
}

// getDBusProperty reads a property from a BlueZ D-Bus object.
func getDBusProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	obj := conn.Object(bluezBus, path)

	variant, err := obj.GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}

	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}

func variantValue[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	val, ok := v.Value().(T)
	return val, ok
}
