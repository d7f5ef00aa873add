package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"gpibridge/config"
	"gpibridge/core"
	"gpibridge/interp"
)

// newLinkedPair returns two LoopbackAdapters joined by a Cable whose
// background sync loop runs for the lifetime of ctx.
func newLinkedPair(t *testing.T) (a, b *core.LoopbackAdapter, ctx context.Context) {
	t.Helper()
	a = core.NewLoopbackAdapter()
	b = core.NewLoopbackAdapter()
	cable := NewCable(a, b)

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cable.Run(runCtx)

	return a, b, runCtx
}

// TestDeviceBeingPolled implements scenario 3 from the testable
// properties: a device at address 12 with SRQ asserted (status 0x41) is
// serial-polled by a controller. The device must answer with its status
// byte exactly once, then clear bit 6 and release SRQ.
func TestDeviceBeingPolled(t *testing.T) {
	controllerPins, devicePins, _ := newLinkedPair(t)

	controller := core.NewEngine(controllerPins)
	if err := controller.SetControls(core.CINI); err != nil {
		t.Fatalf("controller init: %v", err)
	}
	if err := controller.SetControls(core.CIDS); err != nil {
		t.Fatalf("controller idle: %v", err)
	}

	device := core.NewEngine(devicePins)
	if err := device.SetControls(core.DINI); err != nil {
		t.Fatalf("device init: %v", err)
	}
	if err := device.SetControls(core.DIDS); err != nil {
		t.Fatalf("device idle: %v", err)
	}
	if err := device.SetStatus(0x41); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if asserted, _ := devicePins.ReadControl(core.LineSRQ); !asserted {
		t.Fatalf("SRQ should be asserted by a 0x41 status byte")
	}

	attn := core.NewAttentionService(device, 12)

	deviceDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := attn.Poll(ctx); err != nil { // UNL
			deviceDone <- err
			return
		}
		if _, err := attn.Poll(ctx); err != nil { // SPE
			deviceDone <- err
			return
		}
		if _, err := attn.Poll(ctx); err != nil { // TAD+12: triggers SendStatus internally
			deviceDone <- err
			return
		}
		// SerialPoll follows the status read with SPD, UNL and UNT; the
		// device keeps accepting command bytes so those go through.
		for i := 0; i < 3; i++ {
			if _, err := attn.Poll(ctx); err != nil {
				deviceDone <- err
				return
			}
		}
		deviceDone <- nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status, err := controller.SerialPoll(ctx, 12)
	if err != nil {
		t.Fatalf("serial poll: %v", err)
	}
	if status != 0x41 {
		t.Fatalf("status = 0x%02X, want 0x41", status)
	}

	if err := <-deviceDone; err != nil {
		t.Fatalf("device side: %v", err)
	}

	if device.State() != core.DIDS {
		t.Fatalf("device state = %s, want DIDS", device.State())
	}
	if asserted, _ := devicePins.ReadControl(core.LineSRQ); asserted {
		t.Fatalf("SRQ should be released after the poll response")
	}
	if controller.State() != core.CIDS {
		t.Fatalf("controller state = %s, want CIDS", controller.State())
	}
}

// TestParallelPoll implements scenario 5: ++ppoll asserts ATN and EOI
// together, samples the data bus once without a handshake, then returns
// to CIDS.
func TestParallelPoll(t *testing.T) {
	pins := core.NewLoopbackAdapter()
	engine := core.NewEngine(pins)
	if err := engine.SetControls(core.CINI); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := engine.SetControls(core.CIDS); err != nil {
		t.Fatalf("idle: %v", err)
	}

	// Stand in for a responding device ORing its bit onto DIO: drive the
	// data bus directly, the same as Snapshot/Merge would deliver from a
	// peer across a real Cable.
	if err := pins.SetDataBusDirection(core.DirectionOutput); err != nil {
		t.Fatalf("drive data bus: %v", err)
	}
	if err := pins.WriteDataBus(0x04); err != nil {
		t.Fatalf("write data bus: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	value, err := engine.ParallelPoll(ctx)
	if err != nil {
		t.Fatalf("parallel poll: %v", err)
	}
	if value != 0x04 {
		t.Fatalf("parallel poll value = 0x%02X, want 0x04", value)
	}

	if asserted, _ := pins.ReadControl(core.LineATN); asserted {
		t.Fatalf("ATN should be released after the poll")
	}
	if asserted, _ := pins.ReadControl(core.LineEOI); asserted {
		t.Fatalf("EOI should be released after the poll")
	}
}

// TestSerialPollAllReportsOnlyAssertingDevice implements scenario 2: of
// every address 0-30, only the one with SRQ asserted and a nonzero RQS
// bit shows up in the result map.
func TestSerialPollAllReportsOnlyAssertingDevice(t *testing.T) {
	controllerPins, devicePins, _ := newLinkedPair(t)

	controller := core.NewEngine(controllerPins)
	if err := controller.SetControls(core.CINI); err != nil {
		t.Fatalf("controller init: %v", err)
	}

	device := core.NewEngine(devicePins)
	if err := device.SetControls(core.DINI); err != nil {
		t.Fatalf("device init: %v", err)
	}
	if err := device.SetControls(core.DIDS); err != nil {
		t.Fatalf("device idle: %v", err)
	}
	if err := device.SetStatus(0x47); err != nil {
		t.Fatalf("set status: %v", err)
	}

	attn := core.NewAttentionService(device, 5)
	deviceCtx, deviceCancel := context.WithCancel(context.Background())
	defer deviceCancel()
	go func() {
		for {
			if _, err := attn.Poll(deviceCtx); err != nil {
				return
			}
		}
	}()

	// One shared, short deadline: address 5 answers in microseconds, and
	// every non-responding address shares the same absolute deadline
	// rather than waiting out a fresh timeout each, so the full 0-30
	// sweep still finishes quickly.
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	results := controller.SerialPollAll(ctx)
	if status := results[5]; status != 0x47 {
		t.Fatalf("address 5 status = 0x%02X, want 0x47", status)
	}
	for addr, status := range results {
		if addr != 5 && status&0x40 != 0 {
			t.Fatalf("address %d unexpectedly reported SRQ", addr)
		}
	}
}

// TestControllerQueryAndDeviceReply implements scenario 1: a controller
// addresses a device to listen, writes a query terminated by EOI, then
// re-addresses it to talk and reads the reply back, also terminated by
// EOI. Both sides end back in their idle state.
func TestControllerQueryAndDeviceReply(t *testing.T) {
	const deviceAddr = 9

	controllerPins, devicePins, _ := newLinkedPair(t)

	controller := core.NewEngine(controllerPins)
	if err := controller.SetControls(core.CINI); err != nil {
		t.Fatalf("controller init: %v", err)
	}
	if err := controller.SetControls(core.CIDS); err != nil {
		t.Fatalf("controller idle: %v", err)
	}

	device := core.NewEngine(devicePins)
	if err := device.SetControls(core.DINI); err != nil {
		t.Fatalf("device init: %v", err)
	}
	if err := device.SetControls(core.DIDS); err != nil {
		t.Fatalf("device idle: %v", err)
	}

	attn := core.NewAttentionService(device, deviceAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	query := "*IDN?"
	reply := "ACME,GPIBRIDGE,0,1.0"

	type deviceResult struct {
		query string
		err   error
	}
	deviceDone := make(chan deviceResult, 1)

	go func() {
		if _, err := attn.Poll(ctx); err != nil { // UNL
			deviceDone <- deviceResult{err: err}
			return
		}
		if _, err := attn.Poll(ctx); err != nil { // LAD+9
			deviceDone <- deviceResult{err: err}
			return
		}

		var got []byte
		for {
			b, eoi, err := device.ReadByte(ctx, true)
			if err != nil {
				deviceDone <- deviceResult{err: err}
				return
			}
			got = append(got, b)
			if eoi {
				break
			}
		}

		if _, err := attn.Poll(ctx); err != nil { // UNL
			deviceDone <- deviceResult{query: string(got), err: err}
			return
		}
		if _, err := attn.Poll(ctx); err != nil { // TAD+9
			deviceDone <- deviceResult{query: string(got), err: err}
			return
		}

		data := []byte(reply)
		for i, b := range data {
			if err := device.WriteByte(ctx, b, i == len(data)-1, true); err != nil {
				deviceDone <- deviceResult{query: string(got), err: err}
				return
			}
		}
		if err := device.SetControls(core.DIDS); err != nil {
			deviceDone <- deviceResult{query: string(got), err: err}
			return
		}
		deviceDone <- deviceResult{query: string(got)}
	}()

	if err := controller.AddressDevice(ctx, deviceAddr, false); err != nil {
		t.Fatalf("address device to listen: %v", err)
	}
	if err := controller.SetControls(core.CTAS); err != nil {
		t.Fatalf("controller talk-active: %v", err)
	}
	data := []byte(query)
	for i, b := range data {
		if err := controller.WriteByte(ctx, b, i == len(data)-1, true); err != nil {
			t.Fatalf("write query byte %d: %v", i, err)
		}
	}

	if err := controller.AddressDevice(ctx, deviceAddr, true); err != nil {
		t.Fatalf("address device to talk: %v", err)
	}
	if err := controller.SetControls(core.CLAS); err != nil {
		t.Fatalf("controller listen-active: %v", err)
	}
	var got []byte
	for {
		b, eoi, err := controller.ReadByte(ctx, true)
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		got = append(got, b)
		if eoi {
			break
		}
	}
	if err := controller.SetControls(core.CIDS); err != nil {
		t.Fatalf("controller idle: %v", err)
	}

	result := <-deviceDone
	if result.err != nil {
		t.Fatalf("device side: %v", result.err)
	}
	if result.query != query {
		t.Fatalf("device saw query %q, want %q", result.query, query)
	}
	if string(got) != reply {
		t.Fatalf("controller saw reply %q, want %q", string(got), reply)
	}
	if controller.State() != core.CIDS {
		t.Fatalf("controller state = %s, want CIDS", controller.State())
	}
	if device.State() != core.DIDS {
		t.Fatalf("device state = %s, want DIDS", device.State())
	}
}

// TestAbortMidReceiveLoop implements scenario 4: a controller stuck in a
// receive loop, blocked waiting for the next byte, must unblock within
// one poll tick of RequestAbort (hostlink's stand-in for the host typing
// "++!") and hand back everything read so far.
func TestAbortMidReceiveLoop(t *testing.T) {
	controllerPins, devicePins, _ := newLinkedPair(t)

	controller := core.NewEngine(controllerPins)
	if err := controller.SetControls(core.CINI); err != nil {
		t.Fatalf("controller init: %v", err)
	}
	if err := controller.SetControls(core.CIDS); err != nil {
		t.Fatalf("controller idle: %v", err)
	}
	if err := controller.SetControls(core.CLAS); err != nil {
		t.Fatalf("controller listen-active: %v", err)
	}

	device := core.NewEngine(devicePins)
	if err := device.SetControls(core.DINI); err != nil {
		t.Fatalf("device init: %v", err)
	}
	if err := device.SetControls(core.DTAS); err != nil {
		t.Fatalf("device talk-active: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// The device writes two bytes of a much longer payload and then
	// simply stops responding, standing in for a slow instrument mid
	// transfer when the host loses patience and cancels.
	writeDone := make(chan error, 1)
	go func() {
		for _, b := range []byte{0xAA, 0xBB} {
			if err := device.WriteByte(ctx, b, false, true); err != nil {
				writeDone <- err
				return
			}
		}
		writeDone <- nil
	}()

	received := make(chan struct {
		bytes []byte
		err   error
	}, 1)
	go func() {
		var got []byte
		for {
			b, eoi, err := controller.ReadByte(ctx, true)
			if err != nil {
				received <- struct {
					bytes []byte
					err   error
				}{got, err}
				return
			}
			got = append(got, b)
			if eoi {
				received <- struct {
					bytes []byte
					err   error
				}{got, nil}
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond) // let the loop settle into its third ReadByte
	controller.RequestAbort()

	select {
	case r := <-received:
		var hErr *core.HandshakeError
		if !errors.As(r.err, &hErr) {
			t.Fatalf("expected a *core.HandshakeError, got %v", r.err)
		}
		if hErr.Phase != core.PhaseUserAbort {
			t.Fatalf("expected PhaseUserAbort (%d), got phase %d", core.PhaseUserAbort, hErr.Phase)
		}
		if len(r.bytes) != 2 || r.bytes[0] != 0xAA || r.bytes[1] != 0xBB {
			t.Fatalf("bytes delivered before the abort = %v, want [0xAA 0xBB]", r.bytes)
		}
	case <-time.After(time.Second):
		t.Fatal("receive loop did not unblock after RequestAbort")
	}

	select {
	case err := <-writeDone:
		if err != nil {
			t.Fatalf("device write: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("device's two-byte write never completed")
	}
}

// TestRoleSwitchSettles implements scenario 6: ++mode 0 on a
// controller-active session releases the bus, holds for the settling
// time, and comes back up as a device with a clean, unaddressed DIDS and
// no stale ATN/SRQ edge flags carried over from the old role.
func TestRoleSwitchSettles(t *testing.T) {
	pins := core.NewLoopbackAdapter()
	engine := core.NewEngine(pins)
	if err := engine.SetControls(core.CINI); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := engine.SetControls(core.CIDS); err != nil {
		t.Fatalf("idle: %v", err)
	}
	engine.NoteSRQEdge(true) // a pending edge from the old controller role

	cfg := config.Default()
	cfg.Mode = config.ModeController
	session := interp.NewSession(engine, cfg, interp.DefaultCommandTable())

	start := time.Now()
	if _, err := session.ProcessLine("++mode 0"); err != nil {
		t.Fatalf("++mode 0: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Microsecond {
		t.Fatalf("role switch settled in %s, want at least 200us", elapsed)
	}

	if engine.State() != core.DIDS {
		t.Fatalf("engine state = %s, want DIDS", engine.State())
	}
	if engine.HaveAddressedDevice() {
		t.Fatalf("a fresh device role should not start out addressed")
	}
	if engine.SRQFlagged() {
		t.Fatalf("the stale SRQ edge from the old controller role should have been cleared")
	}
	if session.Cfg.Mode != config.ModeDevice {
		t.Fatalf("session config mode = %d, want ModeDevice", session.Cfg.Mode)
	}
}

// TestReadHandlerStopsOnConfiguredEOR covers §4.5's receive-loop
// termination against the default eor=0 (CR+LF) terminator: a device
// that never asserts EOI still has its reply delivered, cut right after
// the CR LF pair, because ++read matches the configured byte sequence
// instead of waiting on EOI alone.
func TestReadHandlerStopsOnConfiguredEOR(t *testing.T) {
	const deviceAddr = 6

	controllerPins, devicePins, _ := newLinkedPair(t)

	controller := core.NewEngine(controllerPins)
	if err := controller.SetControls(core.CINI); err != nil {
		t.Fatalf("controller init: %v", err)
	}
	if err := controller.SetControls(core.CIDS); err != nil {
		t.Fatalf("controller idle: %v", err)
	}

	device := core.NewEngine(devicePins)
	if err := device.SetControls(core.DINI); err != nil {
		t.Fatalf("device init: %v", err)
	}
	if err := device.SetControls(core.DIDS); err != nil {
		t.Fatalf("device idle: %v", err)
	}

	attn := core.NewAttentionService(device, deviceAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := []byte("42.5\r\n")
	writeDone := make(chan error, 1)
	go func() {
		if _, err := attn.Poll(ctx); err != nil { // UNL
			writeDone <- err
			return
		}
		if _, err := attn.Poll(ctx); err != nil { // TAD+6
			writeDone <- err
			return
		}
		for _, b := range payload {
			// No EOI on any byte: a real instrument that only appends
			// CR+LF and never asserts EOI on send.
			if err := device.WriteByte(ctx, b, false, false); err != nil {
				writeDone <- err
				return
			}
		}
		writeDone <- device.SetControls(core.DIDS)
	}()

	cfg := config.Default()
	cfg.Mode = config.ModeController
	cfg.EOIEnabled = false // exercise the EOR byte-sequence terminator, not EOI
	session := interp.NewSession(controller, cfg, interp.DefaultCommandTable())

	if err := controller.AddressDevice(ctx, deviceAddr, true); err != nil {
		t.Fatalf("address device to talk: %v", err)
	}
	if err := controller.SetControls(core.CLAS); err != nil {
		t.Fatalf("controller listen-active: %v", err)
	}

	readDone := make(chan struct {
		out string
		err error
	}, 1)
	go func() {
		out, err := session.ProcessLine("++read")
		readDone <- struct {
			out string
			err error
		}{out, err}
	}()

	select {
	case r := <-readDone:
		if r.err != nil {
			t.Fatalf("++read: %v", r.err)
		}
		if r.out != string(payload) {
			t.Fatalf("++read = %q, want %q", r.out, string(payload))
		}
	case <-time.After(time.Second):
		t.Fatal("++read never returned; EOR sequence was not recognized")
	}

	if err := <-writeDone; err != nil {
		t.Fatalf("device write: %v", err)
	}
}
