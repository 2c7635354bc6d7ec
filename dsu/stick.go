package dsu

import "math"

// normalizePair scales a stick offset pair into the unit disc. The vector
// magnitude is divided by stickRange and capped at 1.0 while the direction
// is preserved, so a full diagonal deflection reaches the same magnitude
// as a full cardinal one.
func normalizePair(x, y float64) (nx, ny float64) {
	m := math.Hypot(x, y)
	if m == 0 {
		return 0, 0
	}
	scaled := math.Min(1.0, m/stickRange)
	return x * scaled / m, y * scaled / m
}

// stickByte encodes a normalized component in [-1, 1] as a protocol byte
// with 128 at center.
func stickByte(v float64) byte {
	return byte(int(math.Round(v*127)) + 128)
}
