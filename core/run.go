package core

import (
	"context"
	"time"
)

// NoteATNEdge and NoteSRQEdge are the watcher-goroutine side of the
// interrupt-equivalent split: a dedicated goroutine blocking on an
// edge-triggered GPIO watch (PeriphAdapter.WatchEdges) calls these on
// every transition; it never touches the bus lines itself. ATNFlagged and
// SRQFlagged read the flags back without a mutex; Run does not read them
// and samples the ATN line directly instead.
func (e *Engine) NoteATNEdge(asserted bool) { e.isATN.Set(asserted) }
func (e *Engine) NoteSRQEdge(asserted bool) { e.isSRQ.Set(asserted) }

// ATNFlagged and SRQFlagged report the last edge noted by NoteATNEdge and
// NoteSRQEdge, for adapters with a real edge watcher wired up.
func (e *Engine) ATNFlagged() bool { return e.isATN.Get() }
func (e *Engine) SRQFlagged() bool { return e.isSRQ.Get() }

// Run is the cooperative main loop for the device role: while ctx is
// alive, it watches ATN directly (adapters without a dedicated edge
// watcher goroutine, like LoopbackAdapter, have nothing else driving the
// flags) and hands control to attn whenever the controller-in-charge
// asserts it. A controller never needs this loop; it drives the bus
// itself from ProcessLine and returns here only to serve as a device.
func (e *Engine) Run(ctx context.Context, attn *AttentionService) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attn != nil && !e.IsController() {
			if atn, _ := e.pins.ReadControl(LineATN); atn {
				if _, err := attn.Poll(ctx); err != nil {
					e.logf("attention poll: %v", err)
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(handshakePollInterval):
		}
	}
}
