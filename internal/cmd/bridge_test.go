package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacs-12/nso-gc-bridge/bridge"
	"github.com/isaacs-12/nso-gc-bridge/transport"
)

func TestParseSlotSpec(t *testing.T) {
	testCases := []struct {
		name     string
		spec     string
		expected bridge.SlotConfig
		wantErr  bool
	}{
		{name: "USB default index", spec: "0:usb", expected: bridge.SlotConfig{Slot: 0, Kind: transport.USB}},
		{name: "USB with index", spec: "2:usb:1", expected: bridge.SlotConfig{Slot: 2, Kind: transport.USB, Index: 1}},
		{name: "BLE scan", spec: "1:ble", expected: bridge.SlotConfig{Slot: 1, Kind: transport.BLE}},
		{
			name:     "BLE with address",
			spec:     "3:ble:aa:bb:cc:dd:ee:ff",
			expected: bridge.SlotConfig{Slot: 3, Kind: transport.BLE, Address: "AA:BB:CC:DD:EE:FF"},
		},
		{name: "Uppercase kind", spec: "0:USB", expected: bridge.SlotConfig{Slot: 0, Kind: transport.USB}},
		{name: "Missing kind", spec: "0", wantErr: true},
		{name: "Bad slot", spec: "x:usb", wantErr: true},
		{name: "Bad kind", spec: "0:serial", wantErr: true},
		{name: "Bad usb index", spec: "0:usb:one", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sc, err := parseSlotSpec(tc.spec)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sc)
		})
	}
}

func TestResolveSlotsRejectsDuplicates(t *testing.T) {
	b := &Bridge{Slots: []string{"0:usb", "0:ble"}}
	_, err := b.resolveSlots(nil)
	assert.Error(t, err)
}
