// Package controller decodes NSO GameCube controller input reports into a
// canonical state and tracks per-connection stick calibration.
package controller

import "strings"

// Button identifies a single controller button as a bit in a Buttons mask.
type Button uint32

const (
	ButtonB Button = 1 << iota
	ButtonA
	ButtonY
	ButtonX
	ButtonL
	ButtonR
	ButtonZ
	ButtonZL
	ButtonStart
	ButtonHome
	ButtonCapture
	ButtonDpadUp
	ButtonDpadDown
	ButtonDpadLeft
	ButtonDpadRight
)

var buttonNames = map[Button]string{
	ButtonB:         "B",
	ButtonA:         "A",
	ButtonY:         "Y",
	ButtonX:         "X",
	ButtonL:         "L",
	ButtonR:         "R",
	ButtonZ:         "Z",
	ButtonZL:        "ZL",
	ButtonStart:     "Start",
	ButtonHome:      "Home",
	ButtonCapture:   "Capture",
	ButtonDpadUp:    "Dpad_Up",
	ButtonDpadDown:  "Dpad_Down",
	ButtonDpadLeft:  "Dpad_Left",
	ButtonDpadRight: "Dpad_Right",
}

func (b Button) String() string {
	if s, ok := buttonNames[b]; ok {
		return s
	}
	return "Unknown"
}

// Buttons is a set of pressed buttons.
type Buttons uint32

// Has reports whether b is pressed.
func (m Buttons) Has(b Button) bool { return m&Buttons(b) != 0 }

// With returns the set with b added.
func (m Buttons) With(b Button) Buttons { return m | Buttons(b) }

// String lists the pressed buttons, for logs.
func (m Buttons) String() string {
	if m == 0 {
		return "(none)"
	}
	var names []string
	for b := ButtonB; b <= ButtonDpadRight; b <<= 1 {
		if m.Has(b) {
			names = append(names, b.String())
		}
	}
	return strings.Join(names, ",")
}

// State is the canonical decoded controller state. Each decode overwrites
// the whole struct; fields are never merged across reports.
type State struct {
	Buttons Buttons

	// Stick offsets from the calibrated neutral center. Main is the left
	// (analog) stick, C the right stick.
	MainX, MainY int16
	CX, CY       int16

	// Analog trigger magnitudes, 0-255.
	TriggerL, TriggerR uint8
}
