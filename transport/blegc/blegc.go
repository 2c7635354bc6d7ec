// Package blegc drives an NSO GameCube controller over Bluetooth LE
// using the BlueZ D-Bus API. No pairing agent is involved; the bridge
// connects, performs the wake handshake over the HID report
// characteristic, and subscribes to value notifications.
package blegc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/isaacs-12/nso-gc-bridge/internal/log"
	"github.com/isaacs-12/nso-gc-bridge/transport"
)

const (
	bluezBus     = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	charIface    = "org.bluez.GattCharacteristic1"
	propsIface   = "org.freedesktop.DBus.Properties"
	objMgrIface  = "org.freedesktop.DBus.ObjectManager"

	hidReportUUID = "00002a4d-0000-1000-8000-00805f9b34fb"

	resolveTimeout = 15 * time.Second
	scanTimeout    = 30 * time.Second
	reconnectDelay = 3 * time.Second
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Transport is a single BLE controller. Address selects the controller by
// Bluetooth address; when empty the first device that accepts the
// handshake during discovery is adopted and Address is filled in.
type Transport struct {
	logger  *slog.Logger
	raw     log.RawLogger
	Address string

	conn      *dbus.Conn
	adapter   dbus.ObjectPath
	device    dbus.ObjectPath
	writeChar dbus.ObjectPath
	signals   chan *dbus.Signal

	reports   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func New(address string, logger *slog.Logger, raw log.RawLogger) *Transport {
	return &Transport{
		logger:  logger,
		raw:     raw,
		Address: strings.ToUpper(address),
		reports: make(chan []byte, 8),
		done:    make(chan struct{}),
	}
}

func (t *Transport) Kind() transport.Kind { return transport.BLE }

func (t *Transport) Reports() <-chan []byte { return t.reports }

// Open connects and starts the notification pump. The pump reconnects on
// its own after link loss; Open only fails when the system bus or adapter
// is unusable.
func (t *Transport) Open(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}
	t.conn = conn
	t.adapter, err = t.findAdapter()
	if err != nil {
		conn.Close()
		return err
	}
	t.signals = make(chan *dbus.Signal, 32)
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to property changes: %w", err)
	}
	conn.Signal(t.signals)
	go t.run(ctx)
	return nil
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.reports)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}
		if err := t.connect(ctx); err != nil {
			t.logger.Warn("BLE connect failed", "address", t.Address, "error", err)
		} else {
			t.logger.Info("BLE controller connected", "address", t.Address)
			t.pump(ctx)
			t.logger.Warn("BLE controller disconnected", "address", t.Address)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (t *Transport) findAdapter() (dbus.ObjectPath, error) {
	objs, err := t.managedObjects()
	if err != nil {
		return "", err
	}
	for path, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("no bluetooth adapter on system bus")
}

func (t *Transport) managedObjects() (managedObjects, error) {
	var objs managedObjects
	obj := t.conn.Object(bluezBus, "/")
	if err := obj.Call(objMgrIface+".GetManagedObjects", 0).Store(&objs); err != nil {
		return nil, fmt.Errorf("listing bluez objects: %w", err)
	}
	return objs, nil
}

func (t *Transport) connect(ctx context.Context) error {
	if t.Address == "" {
		if err := t.discover(ctx); err != nil {
			return err
		}
		return nil
	}
	path, err := t.findDevice(ctx, t.Address)
	if err != nil {
		return err
	}
	return t.attach(ctx, path)
}

// findDevice resolves a known address, scanning when the device is not
// yet in the adapter's cache.
func (t *Transport) findDevice(ctx context.Context, address string) (dbus.ObjectPath, error) {
	if path, ok := t.lookupDevice(address); ok {
		return path, nil
	}
	adapter := t.conn.Object(bluezBus, t.adapter)
	if err := adapter.Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
		return "", fmt.Errorf("starting discovery: %w", err)
	}
	defer adapter.Call(adapterIface+".StopDiscovery", 0)
	deadline := time.Now().Add(scanTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
		if path, ok := t.lookupDevice(address); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("device %s not found after %s scan", address, scanTimeout)
}

func (t *Transport) lookupDevice(address string) (dbus.ObjectPath, bool) {
	objs, err := t.managedObjects()
	if err != nil {
		return "", false
	}
	for path, ifaces := range objs {
		dev, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if addr, ok := dev["Address"].Value().(string); ok && strings.EqualFold(addr, address) {
			return path, true
		}
	}
	return "", false
}

// discover scans and adopts the first device that accepts the wake
// handshake. Candidates are tried strongest signal first.
func (t *Transport) discover(ctx context.Context) error {
	adapter := t.conn.Object(bluezBus, t.adapter)
	if err := adapter.Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}
	defer adapter.Call(adapterIface+".StopDiscovery", 0)
	t.logger.Info("Scanning for controllers")

	tried := make(map[dbus.ObjectPath]bool)
	deadline := time.Now().Add(scanTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
		for _, cand := range t.candidates(tried) {
			tried[cand.path] = true
			if err := t.attach(ctx, cand.path); err != nil {
				t.logger.Debug("Candidate rejected", "address", cand.address, "error", err)
				continue
			}
			t.Address = cand.address
			return nil
		}
	}
	return fmt.Errorf("no controller accepted the handshake within %s", scanTimeout)
}

type candidate struct {
	path    dbus.ObjectPath
	address string
	rssi    int16
}

func (t *Transport) candidates(tried map[dbus.ObjectPath]bool) []candidate {
	objs, err := t.managedObjects()
	if err != nil {
		return nil
	}
	var out []candidate
	for path, ifaces := range objs {
		dev, ok := ifaces[deviceIface]
		if !ok || tried[path] {
			continue
		}
		addr, _ := dev["Address"].Value().(string)
		if addr == "" {
			continue
		}
		c := candidate{path: path, address: strings.ToUpper(addr), rssi: -127}
		if rssi, ok := dev["RSSI"].Value().(int16); ok {
			c.rssi = rssi
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rssi > out[j].rssi })
	return out
}

// attach connects the device, finds the HID report characteristics,
// performs the handshake and enables notifications.
func (t *Transport) attach(ctx context.Context, path dbus.ObjectPath) error {
	dev := t.conn.Object(bluezBus, path)
	if err := dev.Call(deviceIface+".Connect", 0).Err; err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	if err := t.waitResolved(ctx, dev); err != nil {
		dev.Call(deviceIface+".Disconnect", 0)
		return err
	}

	writeChar, notifyChars, err := t.findCharacteristics(path)
	if err != nil {
		dev.Call(deviceIface+".Disconnect", 0)
		return err
	}
	if err := t.handshake(writeChar); err != nil {
		dev.Call(deviceIface+".Disconnect", 0)
		return err
	}
	for _, nc := range notifyChars {
		obj := t.conn.Object(bluezBus, nc)
		if err := obj.Call(charIface+".StartNotify", 0).Err; err != nil {
			t.logger.Debug("StartNotify failed", "path", string(nc), "error", err)
		}
	}
	t.device = path
	t.writeChar = writeChar
	return nil
}

func (t *Transport) waitResolved(ctx context.Context, dev dbus.BusObject) error {
	deadline := time.Now().Add(resolveTimeout)
	for time.Now().Before(deadline) {
		v, err := dev.GetProperty(deviceIface + ".ServicesResolved")
		if err == nil {
			if resolved, ok := v.Value().(bool); ok && resolved {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return fmt.Errorf("gatt services not resolved within %s", resolveTimeout)
}

func (t *Transport) findCharacteristics(device dbus.ObjectPath) (dbus.ObjectPath, []dbus.ObjectPath, error) {
	objs, err := t.managedObjects()
	if err != nil {
		return "", nil, err
	}
	var writeChar dbus.ObjectPath
	var notifyChars []dbus.ObjectPath
	prefix := string(device) + "/"
	for path, ifaces := range objs {
		ch, ok := ifaces[charIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuid, _ := ch["UUID"].Value().(string)
		if !strings.EqualFold(uuid, hidReportUUID) {
			continue
		}
		flags, _ := ch["Flags"].Value().([]string)
		for _, f := range flags {
			switch f {
			case "notify", "indicate":
				notifyChars = append(notifyChars, path)
			case "write", "write-without-response":
				if writeChar == "" {
					writeChar = path
				}
			}
		}
	}
	if writeChar == "" {
		return "", nil, fmt.Errorf("no writable hid report characteristic")
	}
	if len(notifyChars) == 0 {
		return "", nil, fmt.Errorf("no notifying hid report characteristic")
	}
	return writeChar, notifyChars, nil
}

// handshake wakes the controller and switches it to full input reports.
// The SPI read is tried first; controllers that reject it get the short
// probe instead.
func (t *Transport) handshake(writeChar dbus.ObjectPath) error {
	if err := t.writeValue(writeChar, transport.HandshakeReadSPI); err != nil {
		t.logger.Debug("SPI read rejected, probing", "error", err)
		if err := t.writeValue(writeChar, transport.HandshakeProbe); err != nil {
			return fmt.Errorf("handshake rejected: %w", err)
		}
	}
	for _, payload := range [][]byte{transport.DefaultReport, transport.SetLED, transport.SetInputMode} {
		if err := t.writeValue(writeChar, payload); err != nil {
			return fmt.Errorf("writing init report: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func (t *Transport) writeValue(char dbus.ObjectPath, value []byte) error {
	obj := t.conn.Object(bluezBus, char)
	return obj.Call(charIface+".WriteValue", 0, value, map[string]dbus.Variant{}).Err
}

// pump turns characteristic value notifications into reports. Returns
// when the device disconnects or the transport stops.
func (t *Transport) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case sig, ok := <-t.signals:
			if !ok {
				return
			}
			if report, ok := t.reportFromSignal(sig); ok {
				t.raw.Log("ble", report)
				select {
				case t.reports <- report:
				default:
				}
			} else if t.disconnected(sig) {
				return
			}
		}
	}
}

func (t *Transport) reportFromSignal(sig *dbus.Signal) ([]byte, bool) {
	if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return nil, false
	}
	if !strings.HasPrefix(string(sig.Path), string(t.device)) {
		return nil, false
	}
	iface, _ := sig.Body[0].(string)
	if iface != charIface {
		return nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil, false
	}
	value, ok := changed["Value"].Value().([]byte)
	return value, ok
}

func (t *Transport) disconnected(sig *dbus.Signal) bool {
	if sig.Name != propsIface+".PropertiesChanged" || sig.Path != t.device || len(sig.Body) < 2 {
		return false
	}
	iface, _ := sig.Body[0].(string)
	if iface != deviceIface {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	connected, ok := changed["Connected"].Value().(bool)
	return ok && !connected
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.conn != nil {
			if t.device != "" {
				t.conn.Object(bluezBus, t.device).Call(deviceIface+".Disconnect", 0)
			}
			t.conn.RemoveSignal(t.signals)
			t.conn.Close()
		}
	})
	return nil
}
