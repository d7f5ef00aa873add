package core

import (
	"context"
	"fmt"
	"time"
)

// Read-side handshake phases, numbered the same way the original staged
// state machine numbered them so a trace dump's phase number means the
// same thing on both sides of the bus.
const (
	PhaseIFCAbort    uint8 = 1 // IFC asserted mid-handshake, operation aborted
	PhaseATNAbort    uint8 = 2 // ATN dropped mid-handshake, operation aborted
	PhaseUserAbort   uint8 = 3 // ++! cancel token seen mid-handshake
	PhaseReleaseNRFD uint8 = 4 // signalling ready for more data
	PhaseWaitDAVLow  uint8 = 6 // waiting for talker to assert DAV
	PhaseReadData    uint8 = 7 // sampling DIO and acknowledging with NDAC
	PhaseWaitDAVHigh uint8 = 8 // waiting for talker to release DAV
	PhaseComplete    uint8 = 9 // handshake finished cleanly
)

// Write-side handshake phases. Reuses the same 4/9 numbering convention;
// the phases themselves are specific to driving rather than sampling.
const (
	PhaseWaitNDACLow  uint8 = 4 // waiting for listener to be ready (NDAC low)
	PhaseWaitNRFDHigh uint8 = 5 // waiting for listener to signal ready (NRFD high)
	PhaseWriteData    uint8 = 6 // data on the bus, DAV asserted
	PhaseWaitNRFDLow  uint8 = 7 // waiting for listener to start accepting
	PhaseWaitNDACHigh uint8 = 8 // waiting for listener to finish accepting
)

// handshakePollInterval is how often the polling loop re-samples the bus
// while waiting on a peer. Real hardware could use edge interrupts
// instead; LoopbackAdapter and PeriphAdapter are both cheap to poll at
// this rate.
const handshakePollInterval = 50 * time.Microsecond

// HandshakeError reports the phase a read or write aborted or timed out
// at, so callers (and the trace ring) can tell a peer-driven abort from a
// plain timeout.
type HandshakeError struct {
	Phase uint8
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("core: handshake aborted at phase %d: %v", e.Phase, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ReadByte performs one GPIB 3-wire handshake read cycle: release NRFD,
// wait for DAV, assert NRFD, sample DIO1-8 (and EOI if detectEOI),
// release NDAC to accept the byte, wait for DAV to release, then
// re-assert NDAC. ctx bounds the whole cycle; the caller
// typically derives it from the per-command read timeout (rtmo_ms).
func (e *Engine) ReadByte(ctx context.Context, detectEOI bool) (value byte, eoi bool, err error) {
	atnWasAsserted, err := e.pins.ReadControl(LineATN)
	if err != nil {
		return 0, false, fmt.Errorf("core: read ATN: %w", err)
	}

	if err := e.pins.SetControl(LineNRFD, false); err != nil {
		return 0, false, fmt.Errorf("core: release NRFD: %w", err)
	}

	for {
		// These two abort conditions only apply in device role: a device
		// mid-receive must notice its controller pulling IFC or dropping
		// ATN and bail out to listen for a new command burst. A
		// controller reading its own command/data never aborts on its
		// own asserted lines.
		if !e.IsController() {
			if asserted, _ := e.pins.ReadControl(LineIFC); asserted {
				return e.abortRead(PhaseIFCAbort, fmt.Errorf("IFC asserted"))
			}
			if atnNow, _ := e.pins.ReadControl(LineATN); atnWasAsserted && !atnNow {
				return e.abortRead(PhaseATNAbort, fmt.Errorf("ATN released mid-handshake"))
			}
		}
		if e.AbortRequested() {
			return e.abortRead(PhaseUserAbort, fmt.Errorf("cancelled"))
		}

		dav, err := e.pins.ReadControl(LineDAV)
		if err != nil {
			return 0, false, fmt.Errorf("core: read DAV: %w", err)
		}
		if dav {
			break
		}

		select {
		case <-ctx.Done():
			return e.abortRead(PhaseWaitDAVLow, ctx.Err())
		case <-time.After(handshakePollInterval):
		}
	}

	if err := e.pins.SetControl(LineNRFD, true); err != nil {
		return 0, false, fmt.Errorf("core: assert NRFD: %w", err)
	}

	if err := e.pins.SetDataBusDirection(DirectionInput); err != nil {
		return 0, false, fmt.Errorf("core: release data bus: %w", err)
	}

	if detectEOI {
		eoi, _ = e.pins.ReadControl(LineEOI)
	}
	value, err = e.pins.ReadDataBus()
	if err != nil {
		return 0, false, fmt.Errorf("core: read data bus: %w", err)
	}

	if err := e.pins.SetControl(LineNDAC, false); err != nil {
		return 0, false, fmt.Errorf("core: release NDAC: %w", err)
	}

	for {
		if e.AbortRequested() {
			return e.abortRead(PhaseUserAbort, fmt.Errorf("cancelled"))
		}
		dav, err := e.pins.ReadControl(LineDAV)
		if err != nil {
			return 0, false, fmt.Errorf("core: read DAV: %w", err)
		}
		if !dav {
			break
		}
		select {
		case <-ctx.Done():
			return e.abortRead(PhaseWaitDAVHigh, ctx.Err())
		case <-time.After(handshakePollInterval):
		}
	}

	if err := e.pins.SetControl(LineNDAC, true); err != nil {
		return 0, false, fmt.Errorf("core: assert NDAC: %w", err)
	}

	return value, eoi, nil
}

func (e *Engine) abortRead(phase uint8, cause error) (byte, bool, error) {
	evt := EvtReadTimeout
	switch phase {
	case PhaseIFCAbort:
		evt = EvtIFCAbort
	case PhaseATNAbort:
		evt = EvtATNAbort
	case PhaseUserAbort:
		evt = EvtUserAbort
	}
	RecordTrace(uint8(evt), uint8(e.state), phase, GetTime())
	return 0, false, &HandshakeError{Phase: phase, Err: cause}
}

// WriteByte performs one GPIB 3-wire handshake write cycle: wait for the
// listener to be ready, place the byte on DIO1-8, assert DAV (and EOI if
// this is the last byte of a transfer and EOI signalling is enabled),
// then wait for the listener to finish accepting it.
func (e *Engine) WriteByte(ctx context.Context, value byte, isLastByte, eoiEnabled bool) error {
	for {
		// As in ReadByte, aborting on IFC/ATN only makes sense for a
		// device that's talking (DTAS) and needs to notice its
		// controller reclaiming the bus mid-transfer.
		if !e.IsController() {
			if asserted, _ := e.pins.ReadControl(LineIFC); asserted {
				_ = e.SetControls(DLAS)
				return e.abortWrite(PhaseIFCAbort, fmt.Errorf("IFC asserted"))
			}
			if asserted, _ := e.pins.ReadControl(LineATN); asserted {
				_ = e.SetControls(DLAS)
				return e.abortWrite(PhaseATNAbort, fmt.Errorf("ATN asserted"))
			}
		}
		if e.AbortRequested() {
			return e.abortWrite(PhaseUserAbort, fmt.Errorf("cancelled"))
		}

		ndac, _ := e.pins.ReadControl(LineNDAC)
		if ndac {
			break
		}
		select {
		case <-ctx.Done():
			return e.abortWrite(PhaseWaitNDACLow, ctx.Err())
		case <-time.After(handshakePollInterval):
		}
	}

	for {
		if e.AbortRequested() {
			return e.abortWrite(PhaseUserAbort, fmt.Errorf("cancelled"))
		}
		nrfd, _ := e.pins.ReadControl(LineNRFD)
		if !nrfd {
			break
		}
		select {
		case <-ctx.Done():
			return e.abortWrite(PhaseWaitNRFDHigh, ctx.Err())
		case <-time.After(handshakePollInterval):
		}
	}

	if err := e.pins.SetDataBusDirection(DirectionOutput); err != nil {
		return fmt.Errorf("core: drive data bus: %w", err)
	}
	if err := e.pins.WriteDataBus(value); err != nil {
		return fmt.Errorf("core: write data bus: %w", err)
	}
	assertEOI := eoiEnabled && isLastByte
	if err := e.pins.SetControl(LineDAV, true); err != nil {
		return fmt.Errorf("core: assert DAV: %w", err)
	}
	if assertEOI {
		if err := e.pins.SetControl(LineEOI, true); err != nil {
			return fmt.Errorf("core: assert EOI: %w", err)
		}
	}

	for {
		nrfd, _ := e.pins.ReadControl(LineNRFD)
		if nrfd {
			break
		}
		select {
		case <-ctx.Done():
			return e.abortWrite(PhaseWaitNRFDLow, ctx.Err())
		case <-time.After(handshakePollInterval):
		}
	}

	for {
		ndac, _ := e.pins.ReadControl(LineNDAC)
		if !ndac {
			break
		}
		select {
		case <-ctx.Done():
			return e.abortWrite(PhaseWaitNDACHigh, ctx.Err())
		case <-time.After(handshakePollInterval):
		}
	}

	if err := e.pins.SetControl(LineDAV, false); err != nil {
		return fmt.Errorf("core: release DAV: %w", err)
	}
	if assertEOI {
		if err := e.pins.SetControl(LineEOI, false); err != nil {
			return fmt.Errorf("core: release EOI: %w", err)
		}
	}
	_ = e.pins.WriteDataBus(0)
	_ = e.pins.SetDataBusDirection(DirectionInput)

	return nil
}

func (e *Engine) abortWrite(phase uint8, cause error) error {
	evt := EvtWriteTimeout
	switch phase {
	case PhaseIFCAbort:
		evt = EvtIFCAbort
	case PhaseATNAbort:
		evt = EvtATNAbort
	case PhaseUserAbort:
		evt = EvtUserAbort
	}
	RecordTrace(uint8(evt), uint8(e.state), phase, GetTime())
	_ = e.pins.SetDataBusDirection(DirectionInput)
	return &HandshakeError{Phase: phase, Err: cause}
}
