// Package dsu implements the cemuhook ("DSU") UDP wire protocol: packet
// framing, CRC placement and the three message exchanges (Version, Pad
// Info, Pad Data).
package dsu

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/isaacs-12/nso-gc-bridge/controller"
)

// Wire constants (all multi-byte fields little-endian).
const (
	ServerMagic = "DSUS"
	ClientMagic = "DSUC"

	ProtocolVersion = 1001

	// HeaderLen is the common packet header: magic, version, payload
	// length, CRC32, sender id. The 4-byte message type follows it and
	// counts toward the payload length.
	HeaderLen = 16

	MsgTypeVersion = 0x00100000
	MsgTypePadInfo = 0x00100001
	MsgTypePadData = 0x00100002

	// DefaultPort is the well-known DSU port. When it is taken the server
	// walks PortFallbacks consecutive ports before giving up.
	DefaultPort   = 26760
	PortFallbacks = 4

	MaxSlots = 4

	ConnTypeUSB = 0x01
	ConnTypeBLE = 0x02

	// Slot status bytes reported to clients.
	slotStateConnected = 0x02
	slotModelFullGyro  = 0x02
	batteryFull        = 0x05

	versionPacketLen = 24
	padInfoPacketLen = 32
	padDataPacketLen = 100

	// stickRange is the stick offset treated as full deflection. The
	// 2-vector magnitude is capped here so diagonals reach the same
	// maximum as cardinals.
	stickRange = 1400.0
)

// Header field offsets within a packet.
const (
	offMagic    = 0
	offVersion  = 4
	offLength   = 6
	offCRC      = 8
	offServerID = 12
	offMsgType  = 16
)

// SlotMAC returns the synthetic hardware address reported for a pad slot.
// Only the last byte varies, by pad id.
func SlotMAC(padID byte) [6]byte {
	return [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, padID}
}

// newPacket allocates a zeroed packet and fills the server-side header and
// message type. The CRC field is written by finalize.
func newPacket(size int, serverID, msgType uint32) []byte {
	pkt := make([]byte, size)
	copy(pkt[offMagic:], ServerMagic)
	binary.LittleEndian.PutUint16(pkt[offVersion:], ProtocolVersion)
	binary.LittleEndian.PutUint16(pkt[offLength:], uint16(size-HeaderLen))
	binary.LittleEndian.PutUint32(pkt[offServerID:], serverID)
	binary.LittleEndian.PutUint32(pkt[offMsgType:], msgType)
	return pkt
}

// finalize computes the CRC32 over the whole packet with the CRC field
// zeroed and writes it in place. Always the last step of packet
// construction.
func finalize(pkt []byte) []byte {
	binary.LittleEndian.PutUint32(pkt[offCRC:], 0)
	sum := crc32.ChecksumIEEE(pkt)
	binary.LittleEndian.PutUint32(pkt[offCRC:], sum)
	return pkt
}

// VerifyChecksum reports whether the embedded CRC matches the packet
// contents. The packet is not modified.
func VerifyChecksum(pkt []byte) bool {
	if len(pkt) < HeaderLen {
		return false
	}
	embedded := binary.LittleEndian.Uint32(pkt[offCRC:])
	scratch := append([]byte(nil), pkt...)
	binary.LittleEndian.PutUint32(scratch[offCRC:], 0)
	return crc32.ChecksumIEEE(scratch) == embedded
}

// Request is a validated inbound client packet.
type Request struct {
	ClientID uint32
	Type     uint32
	Payload  []byte // bytes after the message type
}

// ParseRequest validates framing, magic, version and CRC of an inbound
// datagram and splits out the message type and payload.
func ParseRequest(buf []byte) (*Request, error) {
	if len(buf) < HeaderLen+4 {
		return nil, fmt.Errorf("packet too short: %d bytes", len(buf))
	}
	if string(buf[offMagic:offMagic+4]) != ClientMagic {
		return nil, fmt.Errorf("bad magic %q", buf[offMagic:offMagic+4])
	}
	if v := binary.LittleEndian.Uint16(buf[offVersion:]); v != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", v)
	}
	if l := int(binary.LittleEndian.Uint16(buf[offLength:])); l+HeaderLen != len(buf) {
		return nil, fmt.Errorf("length field %d does not match packet size %d", l, len(buf))
	}
	if !VerifyChecksum(buf) {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return &Request{
		ClientID: binary.LittleEndian.Uint32(buf[offServerID:]),
		Type:     binary.LittleEndian.Uint32(buf[offMsgType:]),
		Payload:  buf[offMsgType+4:],
	}, nil
}

// BuildVersionResponse builds the 24-byte reply to a Version request. The
// requester's id is echoed back in the server id field.
func BuildVersionResponse(requesterID uint32) []byte {
	pkt := newPacket(versionPacketLen, requesterID, MsgTypeVersion)
	binary.LittleEndian.PutUint16(pkt[20:], ProtocolVersion)
	return finalize(pkt)
}

// SlotStatus describes one pad slot for a Pad Info reply.
type SlotStatus struct {
	PadID     byte
	Connected bool
	ConnType  byte
}

// BuildPadInfoResponse builds the 32-byte per-slot reply to a Pad Info
// request.
func BuildPadInfoResponse(requesterID uint32, s SlotStatus) []byte {
	pkt := newPacket(padInfoPacketLen, requesterID, MsgTypePadInfo)
	pkt[20] = s.PadID
	if s.Connected {
		pkt[21] = slotStateConnected
		pkt[22] = slotModelFullGyro
		pkt[23] = s.ConnType
		mac := SlotMAC(s.PadID)
		copy(pkt[24:30], mac[:])
		pkt[30] = batteryFull
	}
	pkt[31] = 0x00
	return finalize(pkt)
}

// BuildPadData builds the 100-byte Pad Data packet for one slot from a
// canonical controller state. counter must be strictly increasing per slot.
func BuildPadData(serverID uint32, padID, connType byte, counter uint32, st controller.State) []byte {
	pkt := newPacket(padDataPacketLen, serverID, MsgTypePadData)

	// Pad identity prefix, same shape as the Pad Info payload.
	pkt[20] = padID
	pkt[21] = slotStateConnected
	pkt[22] = slotModelFullGyro
	pkt[23] = connType
	mac := SlotMAC(padID)
	copy(pkt[24:30], mac[:])
	pkt[30] = batteryFull
	pkt[31] = 0x01 // active

	binary.LittleEndian.PutUint32(pkt[32:], counter)

	pkt[36], pkt[37], pkt[38], pkt[39] = buttonBytes(st.Buttons)

	lx, ly := normalizePair(float64(st.MainX), float64(st.MainY))
	rx, ry := normalizePair(float64(st.CX), float64(st.CY))
	pkt[40] = stickByte(lx)
	pkt[41] = stickByte(-ly) // DSU Y axes point down
	pkt[42] = stickByte(rx)
	pkt[43] = stickByte(-ry)

	writeButtonShadows(pkt, st.Buttons)

	pkt[54] = st.TriggerL
	pkt[55] = st.TriggerR

	return finalize(pkt)
}

// buttonBytes maps the canonical buttons onto the DualShock-style bitfield
// at packet bytes 36-39: d-pad and Options/Start in byte 36, face and
// shoulder buttons in byte 37, the PS button in byte 38.
func buttonBytes(b controller.Buttons) (b36, b37, b38, b39 byte) {
	set := func(dst *byte, btn controller.Button, bit byte) {
		if b.Has(btn) {
			*dst |= bit
		}
	}
	set(&b36, controller.ButtonDpadLeft, 0x01)
	set(&b36, controller.ButtonDpadDown, 0x02)
	set(&b36, controller.ButtonDpadRight, 0x04)
	set(&b36, controller.ButtonDpadUp, 0x08)
	set(&b36, controller.ButtonStart, 0x10) // Options

	set(&b37, controller.ButtonZ, 0x01)  // R2
	set(&b37, controller.ButtonZL, 0x02) // L2
	set(&b37, controller.ButtonL, 0x04)  // L1
	set(&b37, controller.ButtonR, 0x08)  // R1
	set(&b37, controller.ButtonX, 0x10)  // Square
	set(&b37, controller.ButtonA, 0x20)  // Cross
	set(&b37, controller.ButtonB, 0x40)  // Circle
	set(&b37, controller.ButtonY, 0x80)  // Triangle

	set(&b38, controller.ButtonHome, 0x01) // PS
	return b36, b37, b38, b39
}

// writeButtonShadows fills bytes 44-53, the per-button analog values for
// digital buttons (255 pressed, 0 released), in the order the protocol
// fixes: d-pad L/D/R/U, then Square/Cross/Circle/Triangle, then R1/L1.
func writeButtonShadows(pkt []byte, b controller.Buttons) {
	order := []controller.Button{
		controller.ButtonDpadLeft,
		controller.ButtonDpadDown,
		controller.ButtonDpadRight,
		controller.ButtonDpadUp,
		controller.ButtonX,
		controller.ButtonA,
		controller.ButtonB,
		controller.ButtonY,
		controller.ButtonR,
		controller.ButtonL,
	}
	for i, btn := range order {
		if b.Has(btn) {
			pkt[44+i] = 255
		}
	}
}
