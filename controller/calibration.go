package controller

import (
	"sort"
	"sync"
)

// Calibration sample counts per transport. USB reports arrive on demand and
// are stable immediately; BLE connections jitter for the first reports, so
// we skip early samples and take a median over a larger window.
const (
	usbSampleCount = 10
	bleSampleCount = 50
	bleSkipCount   = 5
)

type calPhase int

const (
	calCollecting calPhase = iota
	calComputing
	calDone
)

// Calibration derives per-axis stick centers from the first reports of a
// connection, assuming the sticks start neutral. It is created per
// connection and becomes immutable once the centers are computed; it is
// never reset mid-connection.
type Calibration struct {
	mu      sync.Mutex
	phase   calPhase
	skip    int
	need    int
	median  bool
	samples []rawSticks

	centers    [4]int
	calibrated bool
}

// NewCalibration returns a calibration engine tuned for the transport:
// mean of 10 samples for USB, median of 50 (after skipping 5) for BLE.
func NewCalibration(t Transport) *Calibration {
	if t == TransportUSB {
		return &Calibration{need: usbSampleCount}
	}
	return &Calibration{skip: bleSkipCount, need: bleSampleCount, median: true}
}

// Observe feeds one raw stick sample. Once enough samples are collected the
// aggregate is computed on a background goroutine so the caller (a HID poll
// loop or BLE notification callback) never stalls on the math.
func (c *Calibration) Observe(rs rawSticks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != calCollecting {
		return
	}
	if c.skip > 0 {
		c.skip--
		return
	}
	c.samples = append(c.samples, rs)
	if len(c.samples) < c.need {
		return
	}
	c.phase = calComputing
	samples := c.samples
	c.samples = nil
	go c.compute(samples)
}

func (c *Calibration) compute(samples []rawSticks) {
	axes := [4][]int{}
	for _, rs := range samples {
		axes[0] = append(axes[0], int(rs.mainX))
		axes[1] = append(axes[1], int(rs.mainY))
		axes[2] = append(axes[2], int(rs.cX))
		axes[3] = append(axes[3], int(rs.cY))
	}

	var centers [4]int
	for i, vals := range axes {
		if c.median {
			centers[i] = medianOf(vals)
		} else {
			centers[i] = meanOf(vals)
		}
	}

	c.mu.Lock()
	c.centers = centers
	c.calibrated = true
	c.phase = calDone
	c.mu.Unlock()
}

// Centers returns the per-axis centers (mainX, mainY, cX, cY) and whether
// calibration has completed.
func (c *Calibration) Centers() ([4]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.centers, c.calibrated
}

func meanOf(vals []int) int {
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return sum / len(vals)
}

func medianOf(vals []int) int {
	sorted := append([]int(nil), vals...)
	sort.Ints(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
