package dsu

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacs-12/nso-gc-bridge/controller"
)

// clientPacket builds a valid client datagram for tests.
func clientPacket(clientID, msgType uint32, payload []byte) []byte {
	pkt := make([]byte, HeaderLen+4+len(payload))
	copy(pkt, ClientMagic)
	binary.LittleEndian.PutUint16(pkt[4:], ProtocolVersion)
	binary.LittleEndian.PutUint16(pkt[6:], uint16(4+len(payload)))
	binary.LittleEndian.PutUint32(pkt[12:], clientID)
	binary.LittleEndian.PutUint32(pkt[16:], msgType)
	copy(pkt[20:], payload)
	sum := crc32.ChecksumIEEE(pkt)
	binary.LittleEndian.PutUint32(pkt[8:], sum)
	return pkt
}

func TestParseRequest(t *testing.T) {
	pkt := clientPacket(0xCAFE, MsgTypeVersion, nil)
	req, err := ParseRequest(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFE), req.ClientID)
	assert.Equal(t, uint32(MsgTypeVersion), req.Type)
	assert.Empty(t, req.Payload)
}

func TestParseRequestRejectsCorruption(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(pkt []byte) []byte
	}{
		{name: "Truncated", mutate: func(p []byte) []byte { return p[:10] }},
		{name: "Wrong magic", mutate: func(p []byte) []byte { p[0] = 'X'; return p }},
		{name: "Server magic", mutate: func(p []byte) []byte { copy(p, ServerMagic); return p }},
		{name: "Wrong version", mutate: func(p []byte) []byte {
			binary.LittleEndian.PutUint16(p[4:], 999)
			return p
		}},
		{name: "Length mismatch", mutate: func(p []byte) []byte {
			binary.LittleEndian.PutUint16(p[6:], 99)
			return p
		}},
		{name: "Flipped payload bit", mutate: func(p []byte) []byte { p[len(p)-1] ^= 0x01; return p }},
		{name: "Flipped CRC bit", mutate: func(p []byte) []byte { p[9] ^= 0x80; return p }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt := clientPacket(1, MsgTypePadData, []byte{0x01, 0x00})
			_, err := ParseRequest(tc.mutate(pkt))
			assert.Error(t, err)
		})
	}
}

func TestBuildVersionResponse(t *testing.T) {
	pkt := BuildVersionResponse(0xDEAD)
	require.Len(t, pkt, 24)
	assert.Equal(t, ServerMagic, string(pkt[0:4]))
	assert.Equal(t, uint16(ProtocolVersion), binary.LittleEndian.Uint16(pkt[4:]))
	assert.Equal(t, uint16(8), binary.LittleEndian.Uint16(pkt[6:]))
	assert.Equal(t, uint32(0xDEAD), binary.LittleEndian.Uint32(pkt[12:]), "requester id echoed")
	assert.Equal(t, uint32(MsgTypeVersion), binary.LittleEndian.Uint32(pkt[16:]))
	assert.Equal(t, uint16(ProtocolVersion), binary.LittleEndian.Uint16(pkt[20:]))
	assert.True(t, VerifyChecksum(pkt))
}

func TestBuildPadInfoResponse(t *testing.T) {
	pkt := BuildPadInfoResponse(7, SlotStatus{PadID: 2, Connected: true, ConnType: ConnTypeBLE})
	require.Len(t, pkt, 32)
	assert.True(t, VerifyChecksum(pkt))
	assert.Equal(t, byte(2), pkt[20])
	assert.Equal(t, byte(0x02), pkt[21])
	assert.Equal(t, byte(0x02), pkt[22])
	assert.Equal(t, byte(ConnTypeBLE), pkt[23])
	assert.Equal(t, []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x02}, pkt[24:30])
	assert.Equal(t, byte(0x05), pkt[30])
	assert.Equal(t, byte(0x00), pkt[31])
}

func TestBuildPadInfoResponseDisconnected(t *testing.T) {
	pkt := BuildPadInfoResponse(7, SlotStatus{PadID: 3})
	require.Len(t, pkt, 32)
	assert.Equal(t, byte(3), pkt[20])
	for i := 21; i < 32; i++ {
		assert.Equal(t, byte(0), pkt[i], "byte %d", i)
	}
}

func TestBuildPadDataLayout(t *testing.T) {
	st := controller.State{
		Buttons: controller.Buttons(controller.ButtonA).
			With(controller.ButtonStart).
			With(controller.ButtonDpadUp).
			With(controller.ButtonHome).
			With(controller.ButtonR),
		TriggerL: 11,
		TriggerR: 22,
	}
	pkt := BuildPadData(42, 1, ConnTypeUSB, 1234, st)
	require.Len(t, pkt, 100)
	assert.True(t, VerifyChecksum(pkt))

	assert.Equal(t, uint16(84), binary.LittleEndian.Uint16(pkt[6:]))
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(pkt[12:]))
	assert.Equal(t, byte(1), pkt[20])
	assert.Equal(t, byte(ConnTypeUSB), pkt[23])
	assert.Equal(t, byte(0x01), pkt[31], "active flag")
	assert.Equal(t, uint32(1234), binary.LittleEndian.Uint32(pkt[32:]))

	assert.Equal(t, byte(0x08|0x10), pkt[36], "dpad up and options")
	assert.Equal(t, byte(0x20|0x08), pkt[37], "cross and r1")
	assert.Equal(t, byte(0x01), pkt[38], "ps button")
	assert.Equal(t, byte(0), pkt[39])

	// neutral sticks report center
	assert.Equal(t, byte(128), pkt[40])
	assert.Equal(t, byte(128), pkt[41])
	assert.Equal(t, byte(128), pkt[42])
	assert.Equal(t, byte(128), pkt[43])

	// analog shadows: dpad up at 44+3, cross at 44+5, r1 at 44+8
	assert.Equal(t, byte(255), pkt[47])
	assert.Equal(t, byte(255), pkt[49])
	assert.Equal(t, byte(255), pkt[52])
	assert.Equal(t, byte(0), pkt[44])

	assert.Equal(t, byte(11), pkt[54])
	assert.Equal(t, byte(22), pkt[55])
}

func TestBuildPadDataStickAxes(t *testing.T) {
	st := controller.State{MainX: 1400, MainY: 1400, CX: -1400, CY: 0}
	pkt := BuildPadData(1, 0, ConnTypeUSB, 1, st)

	// full diagonal deflection still caps at the circle, not the square
	want := byte(int(math.Round(1/math.Sqrt2*127)) + 128)
	assert.Equal(t, want, pkt[40])
	assert.Equal(t, byte(256-int(want)), pkt[41], "wire y is inverted")

	assert.Equal(t, byte(1), pkt[42])
	assert.Equal(t, byte(128), pkt[43])
}

func TestNormalizePair(t *testing.T) {
	testCases := []struct {
		name     string
		x, y     float64
		wantX    float64
		wantY    float64
		epsilons float64
	}{
		{name: "Neutral", x: 0, y: 0, wantX: 0, wantY: 0},
		{name: "Half right", x: 700, y: 0, wantX: 0.5, wantY: 0},
		{name: "Full up", x: 0, y: 1400, wantX: 0, wantY: 1},
		{name: "Overdrive clamps", x: 4000, y: 0, wantX: 1, wantY: 0},
		{name: "Diagonal preserves direction", x: 1400, y: 1400, wantX: 1 / math.Sqrt2, wantY: 1 / math.Sqrt2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			x, y := normalizePair(tc.x, tc.y)
			assert.InDelta(t, tc.wantX, x, 1e-9)
			assert.InDelta(t, tc.wantY, y, 1e-9)
		})
	}
}

func TestStickByte(t *testing.T) {
	assert.Equal(t, byte(128), stickByte(0))
	assert.Equal(t, byte(255), stickByte(1))
	assert.Equal(t, byte(1), stickByte(-1))
}
