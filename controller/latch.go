package controller

import "sync"

// Latch keeps the most recent controller state and accumulates every button
// press seen since the last flush. A tap shorter than one outgoing packet
// interval is therefore still reported pressed in at least one packet, at
// the cost of possibly reporting it for one extra interval after release.
//
// Update is called from the decode path and BuildAndClear from the server's
// packet-build path; both lock the same mutex.
type Latch struct {
	mu      sync.Mutex
	last    State
	pending Buttons
}

// Update records a freshly decoded state and arms every pressed button.
func (l *Latch) Update(st State) {
	l.mu.Lock()
	l.last = st
	l.pending |= st.Buttons
	l.mu.Unlock()
}

// BuildAndClear returns the state to encode into the next outgoing packet:
// axes and triggers from the latest report, buttons from the armed set.
// The armed set is cleared exactly once per call.
func (l *Latch) BuildAndClear() State {
	l.mu.Lock()
	out := l.last
	out.Buttons |= l.pending
	l.pending = 0
	l.last.Buttons = 0
	l.mu.Unlock()
	return out
}

// Snapshot returns the current effective state without flushing the armed
// set. Used by UI consumers.
func (l *Latch) Snapshot() State {
	l.mu.Lock()
	out := l.last
	out.Buttons |= l.pending
	l.mu.Unlock()
	return out
}
