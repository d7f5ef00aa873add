package core

import "sync"

// LoopbackAdapter simulates a GPIB cable in memory. Every control line is
// open-collector/wired-OR, same as the real bus: what a reader sees is the
// logical OR of what this adapter drives and whatever the "rest of the
// bus" (another LoopbackAdapter joined through sim.Cable, or a test
// calling AssertAttention/AssertSRQ directly) is currently driving.
type LoopbackAdapter struct {
	mu sync.Mutex

	own      [8]bool // lines this adapter itself is asserting
	external [8]bool // lines asserted by the rest of the simulated bus

	ownData byte
	busData byte
	driving bool
}

// NewLoopbackAdapter returns a LoopbackAdapter with every line deasserted.
func NewLoopbackAdapter() *LoopbackAdapter {
	return &LoopbackAdapter{}
}

func (l *LoopbackAdapter) ReadDataBus() (byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.driving {
		return l.ownData | l.busData, nil
	}
	return l.busData, nil
}

func (l *LoopbackAdapter) WriteDataBus(value byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ownData = value
	return nil
}

func (l *LoopbackAdapter) SetDataBusDirection(dir BusDirection) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.driving = dir == DirectionOutput
	if !l.driving {
		l.ownData = 0
	}
	return nil
}

func (l *LoopbackAdapter) SetControl(line ControlLine, asserted bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.own[line] = asserted
	return nil
}

func (l *LoopbackAdapter) ReadControl(line ControlLine) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.own[line] || l.external[line], nil
}

// AssertAttention drives ATN from outside the engine, as a peer on the
// simulated bus would. Used by tests that need to interrupt a device's
// receive loop.
func (l *LoopbackAdapter) AssertAttention() {
	l.setExternal(LineATN, true)
}

// DeassertAttention releases an externally-driven ATN.
func (l *LoopbackAdapter) DeassertAttention() {
	l.setExternal(LineATN, false)
}

// AssertSRQ drives SRQ from outside the engine, simulating a device
// requesting service.
func (l *LoopbackAdapter) AssertSRQ() {
	l.setExternal(LineSRQ, true)
}

// DeassertSRQ releases an externally-driven SRQ.
func (l *LoopbackAdapter) DeassertSRQ() {
	l.setExternal(LineSRQ, false)
}

func (l *LoopbackAdapter) setExternal(line ControlLine, asserted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.external[line] = asserted
}

// snapshot and merge implement the wired-OR join used by sim.Cable to
// connect two LoopbackAdapters into one simulated bus.

// Snapshot returns what this adapter is currently driving.
func (l *LoopbackAdapter) Snapshot() (lines [8]bool, data byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.driving {
		return l.own, l.ownData
	}
	return l.own, 0
}

// Merge applies the combined wired-OR state of the rest of the bus, as
// computed by sim.Cable.Sync.
func (l *LoopbackAdapter) Merge(lines [8]bool, data byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.external = lines
	l.busData = data
}
