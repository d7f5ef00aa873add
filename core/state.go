package core

import "fmt"

// BusState is one of the nine fixed roles the engine can be in. The name
// mirrors the classic controller/device state mnemonics: first letter is
// the role (C=controller, D=device), the rest abbreviates what it's doing
// (INI=initialising, IDS=idle, CMS=command send, TAS=talk active,
// LAS=listen active).
type BusState uint8

const (
	CINI BusState = iota // Controller initialisation
	CIDS                 // Controller idle
	CCMS                 // Controller sending a command (ATN asserted)
	CLAS                 // Controller listening (reading the data bus)
	CTAS                 // Controller talking (writing the data bus)
	DINI                 // Device initialisation
	DIDS                 // Device idle
	DLAS                 // Device listening, actively handshaking
	DTAS                 // Device talking, actively handshaking
)

func (s BusState) String() string {
	switch s {
	case CINI:
		return "CINI"
	case CIDS:
		return "CIDS"
	case CCMS:
		return "CCMS"
	case CLAS:
		return "CLAS"
	case CTAS:
		return "CTAS"
	case DINI:
		return "DINI"
	case DIDS:
		return "DIDS"
	case DLAS:
		return "DLAS"
	case DTAS:
		return "DTAS"
	default:
		return "UNKNOWN"
	}
}

func (s BusState) IsController() bool {
	switch s {
	case CINI, CIDS, CCMS, CLAS, CTAS:
		return true
	default:
		return false
	}
}

// controlBitOrder maps bit 7..bit 0 of the direction/level bytes below to
// the line they control: 7-ATN, 6-SRQ, 5-REN, 4-EOI, 3-DAV, 2-NRFD,
// 1-NDAC, 0-IFC.
var controlBitOrder = [8]ControlLine{
	LineATN, LineSRQ, LineREN, LineEOI, LineDAV, LineNRFD, LineNDAC, LineIFC,
}

// controlPattern is the per-state (direction, mask, level) triple that
// drives setControls. dir bit 1 means this engine drives the line in this
// state; level bit 0 means the driven line is asserted (low).
type controlPattern struct {
	dir   uint8
	mask  uint8
	level uint8
}

var statePatterns = map[BusState]controlPattern{
	CINI: {dir: 0b10111000, mask: 0b11111111, level: 0b11011111},
	CIDS: {dir: 0b10111000, mask: 0b10011110, level: 0b11011111},
	CCMS: {dir: 0b10111001, mask: 0b10011111, level: 0b01011111},
	CLAS: {dir: 0b10100110, mask: 0b10011110, level: 0b11011000},
	CTAS: {dir: 0b10111001, mask: 0b10011110, level: 0b11011111},
	DINI: {dir: 0b00000000, mask: 0b11111111, level: 0b11111111},
	DIDS: {dir: 0b00000000, mask: 0b00001110, level: 0b11111111},
	DLAS: {dir: 0b00000110, mask: 0b00011110, level: 0b11111001},
	DTAS: {dir: 0b00011000, mask: 0b00011110, level: 0b11111001},
}

// Engine drives the GPIB handshake and command dispatch for a single
// attached controller or device. It owns exactly one PinAdapter and is
// not safe to share across goroutines beyond the atomic ATN/SRQ flags
// documented on those fields.
type Engine struct {
	pins  PinAdapter
	state BusState

	addressed    bool
	addressedBit uint8 // address most recently sent by AddressDevice, 0-30

	isATN   atomicFlag
	isSRQ   atomicFlag
	isAbort atomicFlag

	statusByte byte
	debug      DebugWriter
}

// NewEngine constructs an Engine bound to the given PinAdapter. Pass
// core.MustPins() to use the process-wide installed adapter.
func NewEngine(pins PinAdapter) *Engine {
	return &Engine{pins: pins}
}

// State returns the engine's current BusState.
func (e *Engine) State() BusState {
	return e.state
}

// SetControls transitions the bus to state, driving or releasing every
// control line according to the fixed bit pattern for that state. This is
// the sole place control-line direction and level are decided; every
// other operation in the engine gets there by calling this with one of
// the nine BusState constants.
func (e *Engine) SetControls(state BusState) error {
	pattern, ok := statePatterns[state]
	if !ok {
		return fmt.Errorf("core: no control pattern for state %s", state)
	}

	for bit := uint8(0); bit < 8; bit++ {
		maskBit := pattern.mask & (1 << (7 - bit))
		if maskBit == 0 {
			continue
		}
		line := controlBitOrder[bit]
		dirBit := pattern.dir & (1 << (7 - bit))
		if dirBit == 0 {
			// Not driving this line in this state: release it so the
			// rest of the bus can pull it.
			if err := e.pins.SetControl(line, false); err != nil {
				return fmt.Errorf("core: release %s: %w", line, err)
			}
			continue
		}
		levelBit := pattern.level & (1 << (7 - bit))
		asserted := levelBit == 0 // 0 = driven low = asserted
		if err := e.pins.SetControl(line, asserted); err != nil {
			return fmt.Errorf("core: drive %s: %w", line, err)
		}
	}

	e.state = state
	RecordTrace(EvtStateChange, uint8(state), 0, GetTime())
	return nil
}

// IsController reports whether the engine is currently acting as
// controller-in-charge.
func (e *Engine) IsController() bool {
	return e.state.IsController()
}

// HaveAddressedDevice reports whether AddressDevice has successfully
// addressed a device that hasn't since been unaddressed.
func (e *Engine) HaveAddressedDevice() bool {
	return e.addressed
}

// IsDeviceAddressedToListen reports whether this engine, acting as a
// device, has been put into the listen-active state by its controller.
func (e *Engine) IsDeviceAddressedToListen() bool {
	return e.state == DLAS
}

// IsDeviceAddressedToTalk reports whether this engine, acting as a
// device, has been put into the talk-active state by its controller.
func (e *Engine) IsDeviceAddressedToTalk() bool {
	return e.state == DTAS
}

// IsDeviceInIdleState reports whether the device is idle (neither
// listening nor talking).
func (e *Engine) IsDeviceInIdleState() bool {
	return e.state == DIDS
}

// SetDebugWriter attaches a sink this Engine uses for its own
// diagnostics, independent of the package-level DebugWriter.
func (e *Engine) SetDebugWriter(w DebugWriter) {
	e.debug = w
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.debug != nil {
		e.debug(fmt.Sprintf(format, args...))
	}
}
