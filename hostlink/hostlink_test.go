package hostlink

import (
	"context"
	"errors"
	"testing"
	"time"

	"gpibridge/config"
	"gpibridge/core"
	"gpibridge/interp"
	"gpibridge/sim"
)

// TestRunAbortsBlockedWriteOnBangToken exercises the ++! cancel token
// end to end: a pass-through line puts the engine's WriteByte deep into
// its wait-for-NDAC poll loop against an unconnected LoopbackAdapter,
// which never responds, and Run's background reader must notice "++!"
// arriving on the port and unblock it without anything else pumping the
// dispatch loop.
func TestRunAbortsBlockedWriteOnBangToken(t *testing.T) {
	pins := core.NewLoopbackAdapter()
	engine := core.NewEngine(pins)
	if err := engine.SetControls(core.CINI); err != nil {
		t.Fatalf("controller init: %v", err)
	}
	if err := engine.SetControls(core.CIDS); err != nil {
		t.Fatalf("controller idle: %v", err)
	}

	cfg := config.Default()
	cfg.Mode = config.ModeController

	session := interp.NewSession(engine, cfg, interp.DefaultCommandTable())
	port := sim.NewFakePort()
	link := New(port, session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- link.Run(ctx) }()

	port.Feed([]byte("HELLO\r\n"))
	time.Sleep(20 * time.Millisecond) // let WriteByte reach its NDAC wait
	port.Feed([]byte("++!\r\n"))

	select {
	case err := <-runErr:
		var hErr *core.HandshakeError
		if !errors.As(err, &hErr) {
			t.Fatalf("expected a *core.HandshakeError, got %v", err)
		}
		if hErr.Phase != core.PhaseUserAbort {
			t.Fatalf("expected PhaseUserAbort (%d), got phase %d", core.PhaseUserAbort, hErr.Phase)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not unblock within 2s of the ++! token arriving")
	}
}

// TestBangHandlerBetweenTransfers covers the other half of ++!: the
// token arriving with nothing in flight sets the abort flag without
// cancelling anything, and the next command's dispatch clears it again.
func TestBangHandlerBetweenTransfers(t *testing.T) {
	pins := core.NewLoopbackAdapter()
	engine := core.NewEngine(pins)
	if err := engine.SetControls(core.DINI); err != nil {
		t.Fatalf("device init: %v", err)
	}
	if err := engine.SetControls(core.DIDS); err != nil {
		t.Fatalf("device idle: %v", err)
	}

	cfg := config.Default()
	session := interp.NewSession(engine, cfg, interp.DefaultCommandTable())

	out, err := session.ProcessLine("++!")
	if err != nil {
		t.Fatalf("++!: %v", err)
	}
	if out != "" {
		t.Fatalf("expected no response text from ++!, got %q", out)
	}
	if !engine.AbortRequested() {
		t.Fatalf("expected AbortRequested to be true immediately after ++!")
	}

	// The next command's dispatch clears it before running, same as a
	// fresh line that was never meant to be cancelled.
	if _, err := session.ProcessLine("++addr"); err != nil {
		t.Fatalf("++addr: %v", err)
	}
	if engine.AbortRequested() {
		t.Fatalf("expected ProcessLine to clear a stale abort before dispatch")
	}
}
