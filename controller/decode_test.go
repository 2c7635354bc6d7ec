package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStickPackRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		x, y uint16
	}{
		{name: "Zero", x: 0, y: 0},
		{name: "Center", x: 2048, y: 2048},
		{name: "Max", x: 4095, y: 4095},
		{name: "Asymmetric", x: 123, y: 3900},
		{name: "High nibbles", x: 0x0ABC, y: 0x0DEF},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b0, b1, b2 := packStick(tc.x, tc.y)
			x, y := unpackStick(b0, b1, b2)
			assert.Equal(t, tc.x, x)
			assert.Equal(t, tc.y, y)
		})
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name      string
		transport Transport
		length    int
		first     byte
		expected  Layout
	}{
		{name: "USB always native", transport: TransportUSB, length: 63, first: 0x30, expected: LayoutUSB},
		{name: "BLE 0x30", transport: TransportBLE, length: 50, first: 0x30, expected: LayoutBLEStandard},
		{name: "BLE 0x3F", transport: TransportBLE, length: 12, first: 0x3F, expected: LayoutBLESimple},
		{name: "BLE 63 bytes", transport: TransportBLE, length: 63, first: 0x00, expected: LayoutBLEDiscovered},
		{name: "BLE 62 bytes vendor", transport: TransportBLE, length: 62, first: 0x00, expected: LayoutBLEVendor},
		{name: "BLE 64 bytes vendor", transport: TransportBLE, length: 64, first: 0x00, expected: LayoutBLEVendor},
		{name: "BLE short fallback", transport: TransportBLE, length: 20, first: 0x05, expected: LayoutBLEReordered},
		{name: "0x30 wins over 63", transport: TransportBLE, length: 63, first: 0x30, expected: LayoutBLEStandard},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.transport, tc.length, tc.first))
		})
	}
}

func TestDecodeShortReport(t *testing.T) {
	_, ok := Decode(make([]byte, 11), LayoutUSB, nil)
	assert.False(t, ok)

	_, ok = Decode(make([]byte, 62), LayoutBLEDiscovered, nil)
	assert.False(t, ok)

	_, ok = Decode(make([]byte, 61), LayoutBLEVendor, nil)
	assert.False(t, ok)
}

// usbReport builds a neutral wired report with centered sticks.
func usbReport() []byte {
	raw := make([]byte, 15)
	raw[6], raw[7], raw[8] = packStick(2048, 2048)
	raw[9], raw[10], raw[11] = packStick(2048, 2048)
	return raw
}

func TestDecodeUSBButtons(t *testing.T) {
	testCases := []struct {
		name     string
		offset   int
		bit      byte
		expected Button
	}{
		{name: "B", offset: 3, bit: 0x01, expected: ButtonB},
		{name: "A", offset: 3, bit: 0x02, expected: ButtonA},
		{name: "Y", offset: 3, bit: 0x04, expected: ButtonY},
		{name: "X", offset: 3, bit: 0x08, expected: ButtonX},
		{name: "R", offset: 3, bit: 0x10, expected: ButtonR},
		{name: "Z", offset: 3, bit: 0x20, expected: ButtonZ},
		{name: "Start", offset: 3, bit: 0x40, expected: ButtonStart},
		{name: "Dpad down", offset: 4, bit: 0x01, expected: ButtonDpadDown},
		{name: "Dpad right", offset: 4, bit: 0x02, expected: ButtonDpadRight},
		{name: "Dpad left", offset: 4, bit: 0x04, expected: ButtonDpadLeft},
		{name: "Dpad up", offset: 4, bit: 0x08, expected: ButtonDpadUp},
		{name: "L", offset: 4, bit: 0x10, expected: ButtonL},
		{name: "ZL", offset: 4, bit: 0x20, expected: ButtonZL},
		{name: "Home", offset: 5, bit: 0x01, expected: ButtonHome},
		{name: "Capture", offset: 5, bit: 0x02, expected: ButtonCapture},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := usbReport()
			raw[tc.offset] |= tc.bit
			st, ok := Decode(raw, LayoutUSB, nil)
			assert.True(t, ok)
			assert.Equal(t, Buttons(tc.expected), st.Buttons)
		})
	}
}

func TestDecodeUSBSticksAndTriggers(t *testing.T) {
	raw := usbReport()
	raw[6], raw[7], raw[8] = packStick(2148, 1948)
	raw[9], raw[10], raw[11] = packStick(2048, 4095)
	raw[13] = 200
	raw[14] = 17

	st, ok := Decode(raw, LayoutUSB, nil)
	assert.True(t, ok)
	assert.Equal(t, int16(100), st.MainX)
	assert.Equal(t, int16(-100), st.MainY)
	assert.Equal(t, int16(0), st.CX)
	assert.Equal(t, int16(2047), st.CY)
	assert.Equal(t, uint8(200), st.TriggerL)
	assert.Equal(t, uint8(17), st.TriggerR)
}

func TestDecodeBLEStandard(t *testing.T) {
	raw := make([]byte, 50)
	raw[0] = 0x30
	raw[3] = 0x08 | 0x04 // A and B
	raw[5] = 0x80        // ZL
	raw[6], raw[7], raw[8] = packStick(2048, 2048)
	raw[9], raw[10], raw[11] = packStick(2048, 2048)

	st, ok := Decode(raw, LayoutBLEStandard, nil)
	assert.True(t, ok)
	assert.True(t, st.Buttons.Has(ButtonA))
	assert.True(t, st.Buttons.Has(ButtonB))
	assert.True(t, st.Buttons.Has(ButtonZL))
	assert.Equal(t, uint8(255), st.TriggerL)
	assert.Equal(t, uint8(0), st.TriggerR)
}

func TestDecodeBLEReordered(t *testing.T) {
	raw := make([]byte, 12)
	raw[3], raw[4], raw[5] = packStick(2248, 2048)
	raw[6], raw[7], raw[8] = packStick(2048, 2048)
	raw[9] = 0x20  // Z
	raw[11] = 0x02 // dpad up

	st, ok := Decode(raw, LayoutBLEReordered, nil)
	assert.True(t, ok)
	assert.True(t, st.Buttons.Has(ButtonZ))
	assert.True(t, st.Buttons.Has(ButtonDpadUp))
	assert.Equal(t, int16(200), st.MainX)
	assert.Equal(t, uint8(255), st.TriggerR)
}

func TestDecodeBLESimple(t *testing.T) {
	raw := make([]byte, 12)
	raw[0] = 0x3F
	raw[1] = 0x08 // dpad up
	raw[2] = 0x40 // L
	// main stick pushed right of the 16-bit center
	raw[4], raw[5] = 0x10, 0x81 // 0x8110 = 33040
	raw[6], raw[7] = 0x00, 0x80
	raw[8], raw[9] = 0x00, 0x80
	raw[10], raw[11] = 0x00, 0x80

	st, ok := Decode(raw, LayoutBLESimple, nil)
	assert.True(t, ok)
	assert.True(t, st.Buttons.Has(ButtonDpadUp))
	assert.True(t, st.Buttons.Has(ButtonL))
	assert.Equal(t, int16(272), st.MainX)
	assert.Equal(t, int16(0), st.MainY)
	assert.Equal(t, uint8(255), st.TriggerL)
	assert.Equal(t, uint8(0), st.TriggerR)
}

func TestDecodeBLEDiscoveredTriggerFallback(t *testing.T) {
	raw := make([]byte, 63)
	raw[2] = 0x20 // Z
	raw[3] = 0x20 // ZL
	raw[5], raw[6], raw[7] = packStick(2048, 2048)
	raw[8], raw[9], raw[10] = packStick(2048, 2048)

	st, ok := Decode(raw, LayoutBLEDiscovered, nil)
	assert.True(t, ok)
	assert.Equal(t, uint8(255), st.TriggerL)
	assert.Equal(t, uint8(255), st.TriggerR)

	// analog bytes win when present
	raw[12], raw[13] = 40, 0
	st, ok = Decode(raw, LayoutBLEDiscovered, nil)
	assert.True(t, ok)
	assert.Equal(t, uint8(40), st.TriggerL)
	assert.Equal(t, uint8(0), st.TriggerR)
}

func TestDecodeBLEVendor(t *testing.T) {
	raw := make([]byte, 62)
	// dpad left (8), B (16), Start (20), Z (29)
	raw[5] = 0x01        // bit 8
	raw[6] = 0x11        // bits 16, 20
	raw[7] = 0x20        // bit 29
	raw[10], raw[11], raw[12] = packStick(2048, 2048)
	raw[13], raw[14], raw[15] = packStick(2048, 2048)
	raw[60] = 99
	raw[61] = 100

	st, ok := Decode(raw, LayoutBLEVendor, nil)
	assert.True(t, ok)
	assert.True(t, st.Buttons.Has(ButtonDpadLeft))
	assert.True(t, st.Buttons.Has(ButtonB))
	assert.True(t, st.Buttons.Has(ButtonStart))
	assert.True(t, st.Buttons.Has(ButtonZ))
	assert.False(t, st.Buttons.Has(ButtonA))
	assert.Equal(t, uint8(99), st.TriggerL)
	assert.Equal(t, uint8(100), st.TriggerR)
}
