package controller

// Transport is the link a raw report arrived over. The wire format differs
// between the two even for the same controller.
type Transport int

const (
	TransportUSB Transport = iota
	TransportBLE
)

func (t Transport) String() string {
	if t == TransportUSB {
		return "usb"
	}
	return "ble"
}

// Layout identifies one of the known report formats. The byte offsets and
// button bit positions per layout are reverse-engineered protocol facts and
// must not be rederived.
type Layout int

const (
	// LayoutUSB is the native wired report: buttons in bytes 3-5, sticks
	// nibble-packed in 6-8/9-11, analog triggers in 13-14.
	LayoutUSB Layout = iota
	// LayoutBLEStandard is the full 0x30 input report over BLE.
	LayoutBLEStandard
	// LayoutBLEReordered carries sticks first (bytes 3-8) and buttons in
	// bytes 9-11. Seen on hosts that strip the report id prefix.
	LayoutBLEReordered
	// LayoutBLESimple is the reduced 0x3F report with 16-bit stick axes.
	LayoutBLESimple
	// LayoutBLEDiscovered is the empirically mapped 63-byte notification.
	LayoutBLEDiscovered
	// LayoutBLEVendor is the 62+ byte vendor report with a 32-bit button
	// field at bytes 4-7.
	LayoutBLEVendor
)

func (l Layout) String() string {
	switch l {
	case LayoutUSB:
		return "usb-native"
	case LayoutBLEStandard:
		return "ble-0x30"
	case LayoutBLEReordered:
		return "ble-reordered"
	case LayoutBLESimple:
		return "ble-0x3f"
	case LayoutBLEDiscovered:
		return "ble-63"
	case LayoutBLEVendor:
		return "ble-vendor"
	}
	return "unknown"
}

// minLen returns the shortest report this layout can decode.
func (l Layout) minLen() int {
	switch l {
	case LayoutBLEDiscovered:
		return 63
	case LayoutBLEVendor:
		return 62
	default:
		return 12
	}
}

// Classify picks the report layout from the transport, report length and
// leading byte. It is a pure function; there is no persistent "current
// layout" state.
func Classify(t Transport, length int, first byte) Layout {
	if t == TransportUSB {
		return LayoutUSB
	}
	switch {
	case first == 0x30:
		return LayoutBLEStandard
	case first == 0x3F:
		return LayoutBLESimple
	case length == 63:
		return LayoutBLEDiscovered
	case length >= 62:
		return LayoutBLEVendor
	default:
		return LayoutBLEReordered
	}
}

// unpackStick splits three bytes into two 12-bit axis values. The middle
// byte carries the X high nibble and the Y low nibble.
func unpackStick(b0, b1, b2 byte) (x, y uint16) {
	x = uint16(b0) | uint16(b1&0x0F)<<8
	y = uint16(b1)>>4 | uint16(b2)<<4
	return x, y
}

// packStick is the inverse of unpackStick; used by tests and report
// synthesis.
func packStick(x, y uint16) (b0, b1, b2 byte) {
	return byte(x), byte(x>>8&0x0F) | byte(y&0x0F)<<4, byte(y >> 4)
}

// digitalTrigger synthesizes a full-scale trigger magnitude from a digital
// button for layouts without analog trigger bytes.
func digitalTrigger(pressed bool) uint8 {
	if pressed {
		return 255
	}
	return 0
}

// rawSticks holds uncalibrated 12-bit axis values, fed to the calibration
// engine before centering is applied.
type rawSticks struct {
	mainX, mainY, cX, cY uint16
}

// Decode maps a raw report into a canonical State. It returns ok=false for
// reports shorter than the layout minimum; callers keep the previous state
// in that case rather than treating it as an error.
//
// When cal is non-nil and the layout uses 12-bit axes, the raw stick values
// are offered to the calibration engine and its centers (once available)
// replace the mid-range default of 2048.
func Decode(raw []byte, layout Layout, cal *Calibration) (State, bool) {
	if len(raw) < layout.minLen() {
		return State{}, false
	}

	switch layout {
	case LayoutUSB:
		return decodeUSB(raw, cal), true
	case LayoutBLEStandard:
		return decodeBLEStandard(raw, cal), true
	case LayoutBLEReordered:
		return decodeBLEReordered(raw, cal), true
	case LayoutBLESimple:
		return decodeBLESimple(raw), true
	case LayoutBLEDiscovered:
		return decodeBLEDiscovered(raw, cal), true
	case LayoutBLEVendor:
		return decodeBLEVendor(raw, cal), true
	}
	return State{}, false
}

// center applies calibration centers (or the 2048 mid-range fallback) to
// raw 12-bit axes, after observing the sample.
func center(rs rawSticks, cal *Calibration) (mainX, mainY, cX, cY int16) {
	cx, cy, ccx, ccy := 2048, 2048, 2048, 2048
	if cal != nil {
		cal.Observe(rs)
		if c, ok := cal.Centers(); ok {
			cx, cy, ccx, ccy = c[0], c[1], c[2], c[3]
		}
	}
	return int16(int(rs.mainX) - cx), int16(int(rs.mainY) - cy),
		int16(int(rs.cX) - ccx), int16(int(rs.cY) - ccy)
}

func decodeUSB(raw []byte, cal *Calibration) State {
	var st State
	b3, b4, b5 := raw[3], raw[4], raw[5]
	set := func(cond byte, b Button) {
		if cond != 0 {
			st.Buttons = st.Buttons.With(b)
		}
	}
	set(b3&0x01, ButtonB)
	set(b3&0x02, ButtonA)
	set(b3&0x04, ButtonY)
	set(b3&0x08, ButtonX)
	set(b3&0x10, ButtonR)
	set(b3&0x20, ButtonZ)
	set(b3&0x40, ButtonStart)
	set(b4&0x01, ButtonDpadDown)
	set(b4&0x02, ButtonDpadRight)
	set(b4&0x04, ButtonDpadLeft)
	set(b4&0x08, ButtonDpadUp)
	set(b4&0x10, ButtonL)
	set(b4&0x20, ButtonZL)
	set(b5&0x01, ButtonHome)
	set(b5&0x02, ButtonCapture)

	var rs rawSticks
	rs.mainX, rs.mainY = unpackStick(raw[6], raw[7], raw[8])
	rs.cX, rs.cY = unpackStick(raw[9], raw[10], raw[11])
	st.MainX, st.MainY, st.CX, st.CY = center(rs, cal)

	if len(raw) > 13 {
		st.TriggerL = raw[13]
	}
	if len(raw) > 14 {
		st.TriggerR = raw[14]
	}
	return st
}

// nintendoButtons decodes the standard Nintendo BLE button bit table from
// three consecutive button bytes.
func nintendoButtons(b3, b4, b5 byte) Buttons {
	var m Buttons
	set := func(cond byte, b Button) {
		if cond != 0 {
			m = m.With(b)
		}
	}
	set(b3&0x01, ButtonY)
	set(b3&0x02, ButtonX)
	set(b3&0x04, ButtonB)
	set(b3&0x08, ButtonA)
	set(b3&0x10, ButtonR)
	set(b3&0x20, ButtonZ)
	set(b4&0x02, ButtonStart)
	set(b4&0x10, ButtonHome)
	set(b4&0x20, ButtonCapture)
	set(b5&0x01, ButtonDpadDown)
	set(b5&0x02, ButtonDpadUp)
	set(b5&0x04, ButtonDpadRight)
	set(b5&0x08, ButtonDpadLeft)
	set(b5&0x40, ButtonL)
	set(b5&0x80, ButtonZL)
	return m
}

func decodeBLEStandard(raw []byte, cal *Calibration) State {
	var st State
	st.Buttons = nintendoButtons(raw[3], raw[4], raw[5])

	var rs rawSticks
	rs.mainX, rs.mainY = unpackStick(raw[6], raw[7], raw[8])
	rs.cX, rs.cY = unpackStick(raw[9], raw[10], raw[11])
	st.MainX, st.MainY, st.CX, st.CY = center(rs, cal)

	// BLE 0x30 carries IMU data where the wired report has trigger bytes;
	// ZL/Z act as digital trigger proxies.
	st.TriggerL = digitalTrigger(st.Buttons.Has(ButtonZL))
	st.TriggerR = digitalTrigger(st.Buttons.Has(ButtonZ))
	return st
}

func decodeBLEReordered(raw []byte, cal *Calibration) State {
	var st State
	st.Buttons = nintendoButtons(raw[9], raw[10], raw[11])

	var rs rawSticks
	rs.mainX, rs.mainY = unpackStick(raw[3], raw[4], raw[5])
	rs.cX, rs.cY = unpackStick(raw[6], raw[7], raw[8])
	st.MainX, st.MainY, st.CX, st.CY = center(rs, cal)

	st.TriggerL = digitalTrigger(st.Buttons.Has(ButtonZL))
	st.TriggerR = digitalTrigger(st.Buttons.Has(ButtonZ))
	return st
}

// decodeBLESimple handles the reduced 0x3F report. Sticks are 16-bit
// little-endian per axis centered at 32768; face buttons are not exposed.
// Calibration does not apply to this layout.
func decodeBLESimple(raw []byte) State {
	var st State
	b1, b2 := raw[1], raw[2]
	set := func(cond byte, b Button) {
		if cond != 0 {
			st.Buttons = st.Buttons.With(b)
		}
	}
	set(b1&0x01, ButtonDpadDown)
	set(b1&0x02, ButtonDpadRight)
	set(b1&0x04, ButtonDpadLeft)
	set(b1&0x08, ButtonDpadUp)
	set(b2&0x02, ButtonStart)
	set(b2&0x10, ButtonHome)
	set(b2&0x20, ButtonCapture)
	set(b2&0x40, ButtonL)
	set(b2&0x80, ButtonZ)

	const center16 = 32768
	st.MainX = int16(int(uint16(raw[4])|uint16(raw[5])<<8) - center16)
	st.MainY = int16(int(uint16(raw[6])|uint16(raw[7])<<8) - center16)
	st.CX = int16(int(uint16(raw[8])|uint16(raw[9])<<8) - center16)
	st.CY = int16(int(uint16(raw[10])|uint16(raw[11])<<8) - center16)

	st.TriggerL = digitalTrigger(st.Buttons.Has(ButtonL))
	st.TriggerR = digitalTrigger(st.Buttons.Has(ButtonZ))
	return st
}

func decodeBLEDiscovered(raw []byte, cal *Calibration) State {
	var st State
	b2, b3, b4 := raw[2], raw[3], raw[4]
	set := func(cond byte, b Button) {
		if cond != 0 {
			st.Buttons = st.Buttons.With(b)
		}
	}
	set(b2&0x01, ButtonB)
	set(b2&0x02, ButtonA)
	set(b2&0x04, ButtonY)
	set(b2&0x08, ButtonX)
	set(b2&0x10, ButtonR)
	set(b2&0x20, ButtonZ)
	set(b2&0x40, ButtonStart)
	set(b3&0x01, ButtonDpadDown)
	set(b3&0x02, ButtonDpadRight)
	set(b3&0x04, ButtonDpadLeft)
	set(b3&0x08, ButtonDpadUp)
	set(b3&0x10, ButtonL)
	set(b3&0x20, ButtonZL)
	set(b4&0x01, ButtonHome)
	set(b4&0x02, ButtonCapture)

	var rs rawSticks
	rs.mainX, rs.mainY = unpackStick(raw[5], raw[6], raw[7])
	rs.cX, rs.cY = unpackStick(raw[8], raw[9], raw[10])
	st.MainX, st.MainY, st.CX, st.CY = center(rs, cal)

	st.TriggerL = raw[12]
	st.TriggerR = raw[13]
	if st.TriggerL == 0 && st.TriggerR == 0 {
		st.TriggerL = digitalTrigger(st.Buttons.Has(ButtonZL))
		st.TriggerR = digitalTrigger(st.Buttons.Has(ButtonZ))
	}
	return st
}

func decodeBLEVendor(raw []byte, cal *Calibration) State {
	var st State
	field := uint32(raw[4]) | uint32(raw[5])<<8 | uint32(raw[6])<<16 | uint32(raw[7])<<24
	set := func(bit uint, b Button) {
		if field&(1<<bit) != 0 {
			st.Buttons = st.Buttons.With(b)
		}
	}
	set(8, ButtonDpadLeft)
	set(9, ButtonDpadRight)
	set(10, ButtonDpadDown)
	set(11, ButtonDpadUp)
	set(16, ButtonB)
	set(17, ButtonX)
	set(18, ButtonA)
	set(19, ButtonY)
	set(20, ButtonStart)
	set(22, ButtonHome)
	set(23, ButtonCapture)
	set(25, ButtonZL)
	set(26, ButtonL)
	set(29, ButtonZ)
	set(30, ButtonR)

	var rs rawSticks
	rs.mainX, rs.mainY = unpackStick(raw[10], raw[11], raw[12])
	rs.cX, rs.cY = unpackStick(raw[13], raw[14], raw[15])
	st.MainX, st.MainY, st.CX, st.CY = center(rs, cal)

	st.TriggerL = raw[60]
	st.TriggerR = raw[61]
	return st
}
