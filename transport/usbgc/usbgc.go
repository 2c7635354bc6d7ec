// Package usbgc drives a wired NSO GameCube controller. Initialization
// goes over a bulk endpoint with libusb; the input stream is read through
// hidapi because the kernel HID driver keeps the interrupt endpoint busy.
package usbgc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/sstallion/go-hid"

	"github.com/isaacs-12/nso-gc-bridge/internal/log"
	"github.com/isaacs-12/nso-gc-bridge/transport"
)

const (
	reportLen    = 64
	pollInterval = time.Millisecond
)

// Transport is a single wired controller. Index selects which of several
// attached controllers to claim, in hidapi enumeration order.
type Transport struct {
	logger *slog.Logger
	raw    log.RawLogger
	index  int

	usbCtx *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	out    *gousb.OutEndpoint
	hdev   *hid.Device

	reports   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func New(index int, logger *slog.Logger, raw log.RawLogger) *Transport {
	return &Transport{
		logger:  logger,
		raw:     raw,
		index:   index,
		reports: make(chan []byte, 8),
		done:    make(chan struct{}),
	}
}

func (t *Transport) Kind() transport.Kind { return transport.USB }

func (t *Transport) Reports() <-chan []byte { return t.reports }

// Open claims the controller and writes the two init reports. Any failure
// here is fatal for the controller; the caller should not retry blindly.
func (t *Transport) Open(ctx context.Context) error {
	if err := t.open(); err != nil {
		t.cleanup()
		return err
	}
	go t.poll(ctx)
	return nil
}

func (t *Transport) open() error {
	t.usbCtx = gousb.NewContext()
	dev, err := t.usbCtx.OpenDeviceWithVIDPID(transport.VendorID, transport.ProductID)
	if err != nil {
		return fmt.Errorf("opening usb device: %w", err)
	}
	if dev == nil {
		return fmt.Errorf("no wired controller found (vid %04x pid %04x)", transport.VendorID, transport.ProductID)
	}
	t.dev = dev
	if err := dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("detaching kernel driver: %w", err)
	}
	t.cfg, err = dev.Config(1)
	if err != nil {
		return fmt.Errorf("claiming configuration: %w", err)
	}
	t.intf, err = t.cfg.Interface(transport.InterfaceNum, 0)
	if err != nil {
		return fmt.Errorf("claiming interface %d: %w", transport.InterfaceNum, err)
	}
	for _, ep := range t.intf.Setting.Endpoints {
		if ep.Direction == gousb.EndpointDirectionOut && ep.TransferType == gousb.TransferTypeBulk {
			t.out, err = t.intf.OutEndpoint(ep.Number)
			if err != nil {
				return fmt.Errorf("opening out endpoint: %w", err)
			}
			break
		}
	}
	if t.out == nil {
		return fmt.Errorf("no bulk out endpoint on interface %d", transport.InterfaceNum)
	}

	if _, err := t.out.Write(transport.DefaultReport); err != nil {
		return fmt.Errorf("writing init report: %w", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := t.out.Write(transport.SetLED); err != nil {
		return fmt.Errorf("writing led report: %w", err)
	}

	if err := hid.Init(); err != nil {
		return fmt.Errorf("initializing hidapi: %w", err)
	}
	var paths []string
	_ = hid.Enumerate(transport.VendorID, transport.ProductID, func(info *hid.DeviceInfo) error {
		paths = append(paths, info.Path)
		return nil
	})
	if t.index >= len(paths) {
		return fmt.Errorf("controller index %d out of range, %d attached", t.index, len(paths))
	}
	t.hdev, err = hid.OpenPath(paths[t.index])
	if err != nil {
		return fmt.Errorf("opening hid device %s: %w", paths[t.index], err)
	}
	if err := t.hdev.SetNonblock(true); err != nil {
		return fmt.Errorf("setting nonblocking read: %w", err)
	}
	t.logger.Info("Wired controller connected", "path", paths[t.index])
	return nil
}

func (t *Transport) poll(ctx context.Context) {
	defer close(t.reports)
	buf := make([]byte, reportLen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}
		n, err := t.hdev.Read(buf)
		if err != nil {
			t.logger.Warn("USB read failed", "error", err)
			time.Sleep(pollInterval)
			continue
		}
		if n == 0 {
			time.Sleep(pollInterval)
			continue
		}
		report := make([]byte, n)
		copy(report, buf[:n])
		t.raw.Log("usb", report)
		select {
		case t.reports <- report:
		default:
			// Stale reports are worthless, keep only the freshest.
			select {
			case <-t.reports:
			default:
			}
			t.reports <- report
		}
	}
}

func (t *Transport) cleanup() {
	if t.hdev != nil {
		t.hdev.Close()
	}
	if t.intf != nil {
		t.intf.Close()
	}
	if t.cfg != nil {
		t.cfg.Close()
	}
	if t.dev != nil {
		t.dev.Close()
	}
	if t.usbCtx != nil {
		t.usbCtx.Close()
	}
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.cleanup()
	})
	return nil
}
