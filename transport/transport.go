// Package transport defines the boundary between the bridge core and the
// physical controller links, plus the device protocol constants shared by
// the USB and BLE implementations.
package transport

import (
	"context"
	"time"
)

// Kind is the physical link a controller is attached over.
type Kind int

const (
	USB Kind = iota
	BLE
)

func (k Kind) String() string {
	if k == USB {
		return "usb"
	}
	return "ble"
}

// Transport delivers raw input reports from one controller. Open
// establishes the link and starts delivery; Reports yields raw report
// buffers until Close. Implementations own their read goroutine.
type Transport interface {
	Kind() Kind
	Open(ctx context.Context) error
	Reports() <-chan []byte
	Close() error
}

// Rumbler is implemented by transports that can drive the controller's
// rumble motor. Used only by the debug rumble hook.
type Rumbler interface {
	Rumble(d time.Duration) error
}

// NSO GameCube controller identity.
const (
	VendorID  = 0x057E
	ProductID = 0x2073

	// HID interface claimed for input on the wired link.
	InterfaceNum = 1
)

// Initialization payloads discovered by the community. The two 16-byte
// reports must be written once right after claiming the interface (USB) or
// finding the write characteristic (BLE); input reports are meaningless
// before that.
var (
	// DefaultReport enables the standard input report stream.
	DefaultReport = []byte{
		0x03, 0x91, 0x00, 0x0d, 0x00, 0x08,
		0x00, 0x00, 0x01, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	}

	// SetLED assigns the player LED slot.
	SetLED = []byte{
		0x09, 0x91, 0x00, 0x07, 0x00, 0x08,
		0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	// HandshakeReadSPI is the BLE wake/init command (SPI read request, as
	// used by BlueRetro for the SW2/GC family).
	HandshakeReadSPI = []byte{
		0x02, 0x91, 0x01, 0x04,
		0x00, 0x08, 0x00, 0x00, 0x40, 0x7e, 0x00, 0x00, 0x00, 0x30, 0x01, 0x00,
	}

	// HandshakeProbe is the fallback write used to detect a controller
	// that rejects the SPI read.
	HandshakeProbe = []byte{0x01, 0x01}

	// SetInputMode selects full 0x30 input reports (subcommand 0x03).
	SetInputMode = []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0x30}
)
