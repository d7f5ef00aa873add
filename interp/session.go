package interp

import (
	"context"
	"fmt"
	"time"

	"gpibridge/config"
	"gpibridge/core"
)

// AutoMode is the ++auto setting, 0-3. hostlink treats every non-zero
// mode the same way: after each pass-through line the controller sends,
// it reads one reply, stopping at EOI, the EOT character or a read error.
// It does not address the instrument to talk first, and no mode keeps
// reading across further lines.
type AutoMode uint8

const (
	AutoOff            AutoMode = 0 // never auto-read; ++read must be issued explicitly
	AutoAfterEveryLine AutoMode = 1 // read one reply after every line sent
	AutoAfterEOI       AutoMode = 2 // handled the same as AutoAfterEveryLine
	AutoAfterCRLF      AutoMode = 3 // handled the same as AutoAfterEveryLine
)

// Session is the ++-command interpreter's state: the configuration it's
// mutating, the engine it drives, and the bookkeeping (macros, the ++prom
// setting) that doesn't belong in the persisted config.
type Session struct {
	Engine *core.Engine
	Cfg    config.Record
	Table  *CommandTable

	// Store is where ++savecfg writes the current Record. Nil is valid:
	// a Session under test with no Store just treats ++savecfg as a
	// no-op, matching how the original firmware tolerates a missing or
	// unformatted EEPROM.
	Store config.Store

	macros [10]string

	promiscuous bool

	debug core.DebugWriter
}

// NewSession constructs a Session bound to engine and an initial
// configuration. Pass DefaultCommandTable() for table in production; a
// test may pass a smaller table to exercise one command in isolation.
func NewSession(engine *core.Engine, cfg config.Record, table *CommandTable) *Session {
	return &Session{Engine: engine, Cfg: cfg, Table: table}
}

// SetDebugWriter attaches a diagnostic sink.
func (s *Session) SetDebugWriter(w core.DebugWriter) {
	s.debug = w
}

func (s *Session) logf(msg string) {
	if s.debug != nil {
		s.debug(msg)
	}
}

func (s *Session) modeMask() Mode {
	if s.Cfg.Mode == config.ModeController {
		return ModeController
	}
	return ModeDevice
}

// HandshakeContext returns a context bounded by the session's configured
// read timeout, for handing to any core.Engine call that does a bus
// handshake.
func (s *Session) HandshakeContext() (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.Cfg.ReadTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 1200 * time.Millisecond
	}
	return context.WithTimeout(context.Background(), timeout)
}

// ProcessLine is the interpreter's single entry point: feed it one
// complete ++-command line (without the terminator), as picked out by the
// caller's LineBuffer.IsCommand check; the line must start with "++".
// Pass-through data lines do not come here. It returns the interpreter's
// response, if the command produces one, to be written back out the host
// link.
func (s *Session) ProcessLine(line string) (string, error) {
	token, params := splitCommandLine(line)
	s.Engine.ClearAbort()
	return s.Table.Dispatch(s, token, params)
}

// switchRole takes the engine down and back up in the role newMode
// names: release every bus line, hold for the bus's settling time, then
// come up in the matching *INI/*IDS pair. A host data line that arrives
// before the new controller has addressed this node again is dropped by
// the caller rather than misread against the stale role, the same as a
// fresh boot.
func (s *Session) switchRole(newMode config.Mode) error {
	init, idle := core.DINI, core.DIDS
	if newMode == config.ModeController {
		init, idle = core.CINI, core.CIDS
	}
	if err := s.Engine.SetControls(init); err != nil {
		return fmt.Errorf("interp: mode switch release: %w", err)
	}
	time.Sleep(roleSwitchSettle)
	if err := s.Engine.SetControls(idle); err != nil {
		return fmt.Errorf("interp: mode switch idle: %w", err)
	}
	// A stale edge noted under the old role (this engine driving ATN as
	// controller, or SRQ as device) means nothing in the new one.
	s.Engine.NoteATNEdge(false)
	s.Engine.NoteSRQEdge(false)
	return nil
}

// roleSwitchSettle is how long the bus is held released before the new
// role's control pattern is driven, long enough for every open-collector
// line to finish rising through the pull-up.
const roleSwitchSettle = 200 * time.Microsecond

func splitCommandLine(line string) (token, params string) {
	line = line[2:] // drop the leading "++"
	i := 0
	for i < len(line) && line[i] != ' ' && line[i] != '\t' {
		i++
	}
	token = line[:i]
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	params = line[i:]
	return token, params
}
