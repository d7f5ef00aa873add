package core

import (
	"context"
	"fmt"
	"time"
)

// Standard IEEE-488.1 multiline interface command bytes, sent under ATN.
const (
	cmdGTL byte = 0x01 // Go To Local
	cmdSDC byte = 0x04 // Selected Device Clear
	cmdGET byte = 0x08 // Group Execute Trigger
	cmdLLO byte = 0x11 // Local Lockout
	cmdDCL byte = 0x14 // Device Clear (unaddressed)
	cmdSPE byte = 0x18 // Serial Poll Enable
	cmdSPD byte = 0x19 // Serial Poll Disable
	cmdUNL byte = 0x3F // Unlisten
	cmdUNT byte = 0x5F // Untalk
	cmdLADBase byte = 0x20 // Listen address base, + primary address 0-30
	cmdTADBase byte = 0x40 // Talk address base, + primary address 0-30
	cmdMSABase byte = 0x60 // Secondary address base, + secondary address 0-30
)

// SendCmd puts the bus into command mode (ATN asserted) if it isn't
// already there and writes a single command byte.
func (e *Engine) SendCmd(ctx context.Context, cmdByte byte) error {
	if e.state != CCMS {
		if err := e.SetControls(CCMS); err != nil {
			return err
		}
	}
	return e.WriteByte(ctx, cmdByte, false, false)
}

// UnAddressDevice sends UNL and UNT, releasing both listen and talk
// addressing from every device on the bus.
func (e *Engine) UnAddressDevice(ctx context.Context) error {
	if err := e.SendCmd(ctx, cmdUNL); err != nil {
		return fmt.Errorf("core: unlisten: %w", err)
	}
	if err := e.SendCmd(ctx, cmdUNT); err != nil {
		return fmt.Errorf("core: untalk: %w", err)
	}
	e.addressed = false
	return nil
}

// AddressDevice sends UNL, then addr's talk address (talk true) or
// listen address, and leaves the engine in CCMS. It sends no listen or
// talk address for the controller itself and does not move the engine
// into CLAS or CTAS.
func (e *Engine) AddressDevice(ctx context.Context, addr uint8, talk bool) error {
	if err := e.SendCmd(ctx, cmdUNL); err != nil {
		return fmt.Errorf("core: unlisten before addressing: %w", err)
	}
	if talk {
		if err := e.SendCmd(ctx, cmdTADBase+addr); err != nil {
			return fmt.Errorf("core: address %d to talk: %w", addr, err)
		}
	} else {
		if err := e.SendCmd(ctx, cmdLADBase+addr); err != nil {
			return fmt.Errorf("core: address %d to listen: %w", addr, err)
		}
	}
	e.addressed = true
	e.addressedBit = addr
	return nil
}

// SendIFC pulses the Interface Clear line for 150 microseconds, the
// minimum width guaranteed to reset every device on the bus.
func (e *Engine) SendIFC() error {
	if err := e.pins.SetControl(LineIFC, true); err != nil {
		return fmt.Errorf("core: assert IFC: %w", err)
	}
	SleepUS(150)
	if err := e.pins.SetControl(LineIFC, false); err != nil {
		return fmt.Errorf("core: release IFC: %w", err)
	}
	return nil
}

// SendAllClear drops every device to local control by releasing REN for
// 40 ms, re-asserting it, then pulsing ATN for 40 ms. It leaves REN
// asserted and ATN released and does not change the engine's BusState.
func (e *Engine) SendAllClear() error {
	if err := e.pins.SetControl(LineREN, false); err != nil {
		return err
	}
	SleepMS(40)
	if err := e.pins.SetControl(LineREN, true); err != nil {
		return err
	}
	if err := e.pins.SetControl(LineATN, true); err != nil {
		return err
	}
	SleepMS(40)
	if err := e.pins.SetControl(LineATN, false); err != nil {
		return err
	}
	return nil
}

// SendSDC selectively clears the device at addr: address it to listen,
// send the Selected Device Clear command, then release addressing.
func (e *Engine) SendSDC(ctx context.Context, addr uint8) error {
	if err := e.AddressDevice(ctx, addr, false); err != nil {
		return err
	}
	if err := e.SendCmd(ctx, cmdSDC); err != nil {
		return err
	}
	return e.UnAddressDevice(ctx)
}

// SendLLO locks out front-panel control on the device at addr.
func (e *Engine) SendLLO(ctx context.Context, addr uint8) error {
	if err := e.AddressDevice(ctx, addr, false); err != nil {
		return err
	}
	if err := e.SendCmd(ctx, cmdLLO); err != nil {
		return err
	}
	return e.UnAddressDevice(ctx)
}

// SendGTL returns the device at addr to local (front-panel) control.
func (e *Engine) SendGTL(ctx context.Context, addr uint8) error {
	if err := e.AddressDevice(ctx, addr, false); err != nil {
		return err
	}
	if err := e.SendCmd(ctx, cmdGTL); err != nil {
		return err
	}
	return e.UnAddressDevice(ctx)
}

// SendGET triggers the device at addr (Group Execute Trigger).
func (e *Engine) SendGET(ctx context.Context, addr uint8) error {
	if err := e.AddressDevice(ctx, addr, false); err != nil {
		return err
	}
	if err := e.SendCmd(ctx, cmdGET); err != nil {
		return err
	}
	return e.UnAddressDevice(ctx)
}

// SendUNL sends Unlisten and drops back to the controller idle state.
func (e *Engine) SendUNL(ctx context.Context) error {
	if err := e.SendCmd(ctx, cmdUNL); err != nil {
		return err
	}
	e.addressed = false
	return e.SetControls(CIDS)
}

// SendUNT sends Untalk and drops back to the controller idle state.
func (e *Engine) SendUNT(ctx context.Context) error {
	if err := e.SendCmd(ctx, cmdUNT); err != nil {
		return err
	}
	e.addressed = false
	return e.SetControls(CIDS)
}

// SendMSA sends a secondary address byte under ATN. Used after MLA/MTA to
// select one of a device's sub-addresses (common on switch matrices and
// multi-channel instruments).
func (e *Engine) SendMSA(ctx context.Context, secondaryAddr uint8) error {
	return e.SendCmd(ctx, cmdMSABase+secondaryAddr)
}

// DeviceClear issues an unaddressed Device Clear, resetting every device
// on the bus simultaneously rather than one at a time.
func (e *Engine) DeviceClear(ctx context.Context) error {
	return e.SendCmd(ctx, cmdDCL)
}

// SerialPoll addresses addr to talk, enables serial poll mode, reads the
// one-byte status response, then disables serial poll, releases
// addressing and returns to CIDS. Bit 6 (0x40) of the returned byte is
// the device's RQS bit.
func (e *Engine) SerialPoll(ctx context.Context, addr uint8) (status byte, err error) {
	// Order matters: SPE must go out before the talk address, so the
	// addressed device knows to answer with its status byte instead of
	// switching into a normal talk-active data transfer.
	if err := e.SendCmd(ctx, cmdUNL); err != nil {
		return 0, fmt.Errorf("core: unlisten before serial poll: %w", err)
	}
	if err := e.SendCmd(ctx, cmdSPE); err != nil {
		return 0, err
	}
	if err := e.SendCmd(ctx, cmdTADBase+addr); err != nil {
		return 0, fmt.Errorf("core: address %d to talk: %w", addr, err)
	}
	if err := e.SetControls(CLAS); err != nil {
		return 0, err
	}
	status, _, err = e.ReadByte(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("core: serial poll read: %w", err)
	}
	if err := e.SendCmd(ctx, cmdSPD); err != nil {
		return status, err
	}
	if err := e.UnAddressDevice(ctx); err != nil {
		return status, err
	}
	return status, e.SetControls(CIDS)
}

// SerialPollAll serial-polls every address from 0 to 30 and returns the
// status byte for each. Addresses that don't respond or time out get a
// zero status and are still reported, matching how a real bus scan
// behaves: a non-responding device just looks idle. When ctx has a
// deadline, each address gets an equal share of the time left, so a
// silent address does not use up the time of the ones after it.
func (e *Engine) SerialPollAll(ctx context.Context) map[uint8]byte {
	results := make(map[uint8]byte, 31)
	for addr := uint8(0); addr <= 30; addr++ {
		pollCtx, cancel := ctx, context.CancelFunc(func() {})
		if deadline, ok := ctx.Deadline(); ok {
			share := time.Until(deadline) / time.Duration(31-int(addr))
			pollCtx, cancel = context.WithTimeout(ctx, share)
		}
		status, err := e.SerialPoll(pollCtx, addr)
		cancel()
		if err != nil {
			status = 0
		}
		results[addr] = status
	}
	return results
}

// SetREN drives (or releases) the Remote Enable line directly. Used by
// the ++ren command, which toggles remote/local control independently of
// any addressing operation.
func (e *Engine) SetREN(asserted bool) error {
	return e.pins.SetControl(LineREN, asserted)
}

// ReadSRQ reports whether a device is currently asserting Service
// Request.
func (e *Engine) ReadSRQ() (bool, error) {
	return e.pins.ReadControl(LineSRQ)
}

// SetStatus updates the device's status byte and asserts or releases SRQ
// to match bit 6 (0x40), the request-service bit. A controller later
// retrieves this byte with SerialPoll.
func (e *Engine) SetStatus(statusByte byte) error {
	e.statusByte = statusByte
	return e.pins.SetControl(LineSRQ, statusByte&0x40 != 0)
}

// SendStatus responds to a serial poll: switch to the talker-active
// state, write the status byte, clear its SRQ bit, and drop SRQ.
func (e *Engine) SendStatus(ctx context.Context) error {
	if e.state != DTAS {
		if err := e.SetControls(DTAS); err != nil {
			return err
		}
	}
	if err := e.WriteByte(ctx, e.statusByte, false, false); err != nil {
		return err
	}
	if err := e.SetControls(DIDS); err != nil {
		return err
	}
	e.statusByte &^= 0x40
	return e.pins.SetControl(LineSRQ, false)
}

// ParallelPoll asserts ATN and EOI together and samples DIO1-8 without a
// full 3-wire handshake, per the IEEE-488.1 parallel poll procedure. Each
// responding device ORs a single bit onto the bus; the returned byte is
// the combined response.
func (e *Engine) ParallelPoll(ctx context.Context) (byte, error) {
	if err := e.pins.SetControl(LineATN, true); err != nil {
		return 0, err
	}
	if err := e.pins.SetControl(LineEOI, true); err != nil {
		return 0, err
	}
	SleepUS(150)

	value, err := e.pins.ReadDataBus()
	if err != nil {
		return 0, err
	}

	if err := e.pins.SetControl(LineEOI, false); err != nil {
		return value, err
	}
	if err := e.pins.SetControl(LineATN, false); err != nil {
		return value, err
	}
	return value, nil
}
