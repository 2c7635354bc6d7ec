package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/isaacs-12/nso-gc-bridge/bridge"
	"github.com/isaacs-12/nso-gc-bridge/internal/log"
	dsuserver "github.com/isaacs-12/nso-gc-bridge/internal/server/dsu"
	"github.com/isaacs-12/nso-gc-bridge/internal/storage"
	"github.com/isaacs-12/nso-gc-bridge/transport"
)

// Bridge runs the bridge until interrupted.
type Bridge struct {
	DsuConfig dsuserver.ServerConfig `embed:"" prefix:"dsu."`

	Slots  []string `help:"Slot bindings, e.g. 0:usb, 0:usb:1, 1:ble, 1:ble:AA:BB:CC:DD:EE:FF" default:"0:usb"`
	Resume bool     `help:"Re-attach the BLE controllers from the previous run" env:"NSOGC_RESUME"`
}

// Run is called by Kong when the bridge command is executed.
func (b *Bridge) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return b.StartBridge(ctx, logger, rawLogger)
}

func (b *Bridge) StartBridge(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	store := &storage.Store{}
	slots, err := b.resolveSlots(store)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return fmt.Errorf("no slots configured")
	}

	logger.Info("Starting DSU bridge", "host", b.DsuConfig.Host, "port", b.DsuConfig.Port, "slots", len(slots))

	br := bridge.New(b.DsuConfig, logger, rawLogger)
	defer func() {
		if err := store.SetLastConnected(br.Addresses()); err != nil {
			logger.Warn("Failed to save last connected controllers", "error", err)
		}
	}()
	return br.Start(ctx, slots)
}

// resolveSlots parses the slot bindings and, with --resume, merges in the
// BLE addresses from the previous run for slots bound to ble without an
// explicit address.
func (b *Bridge) resolveSlots(store *storage.Store) ([]bridge.SlotConfig, error) {
	var last map[byte]string
	if b.Resume {
		var err error
		if last, err = store.LastConnected(); err != nil {
			return nil, err
		}
	}
	seen := make(map[byte]bool)
	var out []bridge.SlotConfig
	for _, spec := range b.Slots {
		sc, err := parseSlotSpec(spec)
		if err != nil {
			return nil, err
		}
		if seen[sc.Slot] {
			return nil, fmt.Errorf("slot %d bound twice", sc.Slot)
		}
		seen[sc.Slot] = true
		if sc.Kind == transport.BLE && sc.Address == "" && last != nil {
			sc.Address = last[sc.Slot]
		}
		out = append(out, sc)
	}
	return out, nil
}

// parseSlotSpec parses "slot:kind" with an optional third part: a device
// index for usb, a bluetooth address for ble.
func parseSlotSpec(spec string) (bridge.SlotConfig, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return bridge.SlotConfig{}, fmt.Errorf("invalid slot binding %q, expected slot:kind[:target]", spec)
	}
	slot, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return bridge.SlotConfig{}, fmt.Errorf("invalid slot number in %q: %w", spec, err)
	}
	sc := bridge.SlotConfig{Slot: byte(slot)}
	switch strings.ToLower(parts[1]) {
	case "usb":
		sc.Kind = transport.USB
		if len(parts) == 3 {
			idx, err := strconv.Atoi(parts[2])
			if err != nil {
				return bridge.SlotConfig{}, fmt.Errorf("invalid usb index in %q: %w", spec, err)
			}
			sc.Index = idx
		}
	case "ble":
		sc.Kind = transport.BLE
		if len(parts) == 3 {
			sc.Address = strings.ToUpper(parts[2])
		}
	default:
		return bridge.SlotConfig{}, fmt.Errorf("unknown transport %q in %q", parts[1], spec)
	}
	return sc, nil
}
