// Package bridge runs the full pipeline: it owns the DSU server, one
// transport per controller slot, and the decode goroutines between them.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/isaacs-12/nso-gc-bridge/controller"
	"github.com/isaacs-12/nso-gc-bridge/dsu"
	"github.com/isaacs-12/nso-gc-bridge/internal/log"
	dsuserver "github.com/isaacs-12/nso-gc-bridge/internal/server/dsu"
	"github.com/isaacs-12/nso-gc-bridge/transport"
	"github.com/isaacs-12/nso-gc-bridge/transport/blegc"
	"github.com/isaacs-12/nso-gc-bridge/transport/usbgc"
)

// SlotConfig binds one DSU slot to a physical controller.
type SlotConfig struct {
	Slot    byte
	Kind    transport.Kind
	Address string // BLE device address, empty to adopt the first found
	Index   int    // which wired controller when several are attached
}

// Bridge coordinates the slots and the shared DSU server. Failures on one
// slot never affect the others.
type Bridge struct {
	logger *slog.Logger
	raw    log.RawLogger
	server *dsuserver.Server

	mu         sync.Mutex
	transports map[byte]transport.Transport
	addresses  map[byte]string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg dsuserver.ServerConfig, logger *slog.Logger, raw log.RawLogger) *Bridge {
	return &Bridge{
		logger:     logger,
		raw:        raw,
		server:     dsuserver.New(cfg, logger, raw),
		transports: make(map[byte]transport.Transport),
	}
}

// Server exposes the DSU server, mainly so callers can wait on Ready.
func (b *Bridge) Server() *dsuserver.Server { return b.server }

// Start brings up the server and every configured slot, then blocks until
// the server loop ends. Slot setup errors are fatal for USB (a wired
// controller that fails init will not recover) and logged for BLE.
func (b *Bridge) Start(ctx context.Context, slots []SlotConfig) error {
	ctx, b.cancel = context.WithCancel(ctx)
	for _, sc := range slots {
		if err := b.startSlot(ctx, sc); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() { errCh <- b.server.ListenAndServe() }()
	select {
	case <-ctx.Done():
		b.Stop()
		return <-errCh
	case err := <-errCh:
		b.Stop()
		return err
	}
}

func (b *Bridge) startSlot(ctx context.Context, sc SlotConfig) error {
	if sc.Slot >= dsu.MaxSlots {
		return fmt.Errorf("slot %d out of range", sc.Slot)
	}
	var tr transport.Transport
	var connType byte
	switch sc.Kind {
	case transport.USB:
		tr = usbgc.New(sc.Index, b.logger, b.raw)
		connType = dsu.ConnTypeUSB
	case transport.BLE:
		tr = blegc.New(sc.Address, b.logger, b.raw)
		connType = dsu.ConnTypeBLE
	default:
		return fmt.Errorf("unknown transport kind %d", sc.Kind)
	}
	pad, err := b.server.AttachPad(sc.Slot, connType)
	if err != nil {
		return err
	}
	if err := tr.Open(ctx); err != nil {
		if sc.Kind == transport.USB {
			return fmt.Errorf("slot %d: %w", sc.Slot, err)
		}
		b.logger.Warn("Slot setup failed", "slot", sc.Slot, "error", err)
		return nil
	}
	b.mu.Lock()
	b.transports[sc.Slot] = tr
	b.mu.Unlock()
	b.wg.Add(1)
	go b.pipeline(sc.Slot, tr, pad)
	b.logger.Info("Slot attached", "slot", sc.Slot, "transport", sc.Kind.String())
	return nil
}

// pipeline decodes every report from one transport into its pad.
// Calibration state lives here: reports observed before calibration
// completes still publish with the fallback center.
func (b *Bridge) pipeline(slot byte, tr transport.Transport, pad *dsuserver.Pad) {
	defer b.wg.Done()
	cal := controller.NewCalibration(tr.Kind())
	for report := range tr.Reports() {
		layout := controller.Classify(tr.Kind(), len(report), firstByte(report))
		st, ok := controller.Decode(report, layout, cal)
		if !ok {
			b.logger.Debug("Dropping short report", "slot", slot, "layout", layout.String(), "len", len(report))
			continue
		}
		pad.Publish(st)
	}
	b.logger.Info("Slot pipeline stopped", "slot", slot)
}

func firstByte(report []byte) byte {
	if len(report) == 0 {
		return 0
	}
	return report[0]
}

// Snapshot returns the current state of a slot without consuming pending
// presses. Used by the controllers test command.
func (b *Bridge) Snapshot(slot byte) (controller.State, bool) {
	pad := b.server.Pad(slot)
	if pad == nil {
		return controller.State{}, false
	}
	return pad.Snapshot(), true
}

// Rumble drives the rumble motor on a slot for the given duration. Only
// transports that implement transport.Rumbler support it.
func (b *Bridge) Rumble(slot byte, d time.Duration) error {
	b.mu.Lock()
	tr, ok := b.transports[slot]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("slot %d not attached", slot)
	}
	r, ok := tr.(transport.Rumbler)
	if !ok {
		return fmt.Errorf("slot %d transport does not support rumble", slot)
	}
	return r.Rumble(d)
}

// Addresses returns the BLE address attached to each slot, including
// addresses adopted during discovery.
func (b *Bridge) Addresses() map[byte]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshotAddressesLocked()
	out := make(map[byte]string, len(b.addresses))
	for slot, addr := range b.addresses {
		out[slot] = addr
	}
	return out
}

func (b *Bridge) snapshotAddressesLocked() {
	if b.addresses == nil {
		b.addresses = make(map[byte]string)
	}
	for slot, tr := range b.transports {
		if ble, ok := tr.(*blegc.Transport); ok && ble.Address != "" {
			b.addresses[slot] = ble.Address
		}
	}
}

// Stop tears everything down: transports first so the pipelines drain,
// then the server socket.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Lock()
	b.snapshotAddressesLocked()
	for _, tr := range b.transports {
		tr.Close()
	}
	b.transports = make(map[byte]transport.Transport)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() { b.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		b.logger.Warn("Slot pipelines did not stop in time")
	}
	b.server.Close()
}
