package core

import (
	"context"
	"fmt"
)

// AttentionService runs the device-side half of the bus: whenever ATN is
// asserted it reads the command byte(s) the controller-in-charge sends
// and decides whether this engine has just been addressed to listen,
// addressed to talk, or neither. It owns no goroutine; a caller polls
// Poll() from the cooperative main loop once it sees the ATN flag set.
type AttentionService struct {
	engine *Engine

	// MyAddress is the primary address this engine answers to.
	MyAddress uint8

	// Promiscuous selects an empty case in Poll for bytes that address
	// some other device; it changes nothing else. LastCommand records
	// every byte Poll reads whether Promiscuous is set or not, and the
	// ++prom command keeps its own setting on the Session without
	// touching this field.
	Promiscuous bool

	LastCommand byte

	spollMode bool
}

// NewAttentionService returns an AttentionService bound to engine,
// answering to myAddress.
func NewAttentionService(engine *Engine, myAddress uint8) *AttentionService {
	return &AttentionService{engine: engine, MyAddress: myAddress}
}

// addressedListen and addressedTalk report what the last decoded command
// byte meant for this engine's own address.
func (a *AttentionService) addressedListen(cmd byte) bool {
	return cmd == cmdLADBase+a.MyAddress
}

func (a *AttentionService) addressedTalk(cmd byte) bool {
	return cmd == cmdTADBase+a.MyAddress
}

// Poll reads one command byte while ATN is asserted and applies it to the
// engine's state. It returns the decoded byte so callers that need
// secondary addressing (MSA) or serial-poll enable/disable (SPE/SPD) can
// keep reading without re-deriving the state transition logic.
//
// A byte in the 0x20-0x5F primary address range that is neither this
// engine's listen nor its talk address addresses some other device and
// leaves this engine's state as it was. The service keeps only the single
// most recent command byte (LastCommand) and the serial-poll-enable flag;
// secondary addresses (0x60 and up) are not acted on.
func (a *AttentionService) Poll(ctx context.Context) (byte, error) {
	// Every device on the bus, addressed or not, listens for command
	// bytes while ATN is asserted — that's how a universal command like
	// UNL reaches devices that haven't been individually addressed yet.
	// DLAS is what drives NRFD/NDAC to participate in that handshake.
	if a.engine.state != DLAS {
		if err := a.engine.SetControls(DLAS); err != nil {
			return 0, err
		}
	}

	cmd, _, err := a.engine.ReadByte(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("core: attention read: %w", err)
	}
	a.LastCommand = cmd

	switch {
	case cmd == cmdSPE:
		a.spollMode = true
	case cmd == cmdSPD:
		a.spollMode = false
	case cmd == cmdUNL || cmd == cmdUNT:
		a.engine.addressed = false
		if err := a.engine.SetControls(DIDS); err != nil {
			return cmd, err
		}
	case a.addressedListen(cmd):
		a.engine.addressed = true
		if err := a.engine.SetControls(DLAS); err != nil {
			return cmd, err
		}
	case a.addressedTalk(cmd):
		a.engine.addressed = true
		if a.spollMode {
			if err := a.engine.SendStatus(ctx); err != nil {
				return cmd, err
			}
			break
		}
		if err := a.engine.SetControls(DTAS); err != nil {
			return cmd, err
		}
	case a.Promiscuous:
		// Not addressed to us, but the caller still wants visibility
		// into bus traffic. LastCommand is already set above.
	default:
		// Not addressed, not a command we otherwise care about: stay
		// in whatever idle state we were already in.
	}

	return cmd, nil
}
