// Package sim provides an in-memory GPIB bus for integration tests: a
// wired-OR Cable connecting two or more core.LoopbackAdapters, and a
// scriptable fake serial port for exercising hostlink without real
// hardware.
package sim

import (
	"context"
	"time"

	"gpibridge/core"
)

// SyncInterval is how often Run re-synchronizes the cable. Real copper
// is instantaneous; this just needs to be faster than the engines'
// handshake poll interval so neither side waits a full timeout for a
// line change to become visible.
const SyncInterval = 10 * time.Microsecond

// Cable joins participants onto one simulated bus. Each participant's
// control lines and data bus are wired-OR together, same as the real
// bus: a line reads back asserted if any participant is driving it.
// Sync must be called after every round of bus activity (a handshake
// step, a command byte) for each participant's view to reflect what the
// others just did. core.Engine never calls Sync itself: Cable.Run calls
// it on a ticker, and a hand-rolled test can call it directly between
// steps.
type Cable struct {
	participants []*core.LoopbackAdapter
}

// NewCable returns a Cable joining the given adapters.
func NewCable(participants ...*core.LoopbackAdapter) *Cable {
	return &Cable{participants: participants}
}

// Sync takes a snapshot of every participant's driven lines, combines
// them with a bitwise OR (lines) and OR (data), then feeds every
// participant the combined view of "everyone else" — its own snapshot
// excluded, so a participant never sees its own drive reflected back as
// if some other device agreed with it.
func (c *Cable) Sync() {
	snapshots := make([][8]bool, len(c.participants))
	datas := make([]byte, len(c.participants))
	for i, p := range c.participants {
		snapshots[i], datas[i] = p.Snapshot()
	}

	for i, p := range c.participants {
		var lines [8]bool
		var data byte
		for j := range c.participants {
			if j == i {
				continue
			}
			for line := 0; line < 8; line++ {
				lines[line] = lines[line] || snapshots[j][line]
			}
			data |= datas[j]
		}
		p.Merge(lines, data)
	}
}

// Run synchronizes the cable every SyncInterval until ctx is cancelled.
// Tests that drive two core.Engines concurrently start this in its own
// goroutine alongside them.
func (c *Cable) Run(ctx context.Context) {
	ticker := time.NewTicker(SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sync()
		}
	}
}
