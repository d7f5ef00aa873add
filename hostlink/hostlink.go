// Package hostlink wires a serial.Port to an interp.Session: it feeds
// the port's bytes into a LineBuffer one at a time, routes completed
// ++-command lines to the session and writes back the response, and
// forwards completed pass-through lines onto the GPIB bus a byte at a
// time, asserting EOI on the last byte when the session's config calls
// for it.
package hostlink

import (
	"context"
	"fmt"
	"strings"

	"gpibridge/host/serial"
	"gpibridge/interp"
)

// lineTerminator is appended to every line hostlink writes back to the
// host: command responses and, in auto-read modes, instrument data.
const lineTerminator = "\r\n"

// Link owns one serial port and one interpreter session. Run spawns one
// background goroutine of its own, solely to keep pulling bytes off the
// port while the dispatch side is blocked inside a GPIB handshake; that
// goroutine touches nothing but the port and the abort scanner.
type Link struct {
	port    serial.Port
	session *interp.Session
	lb      *interp.LineBuffer

	abortWindow [3]byte
}

// New returns a Link driving session over port. Caller owns opening and
// closing port.
func New(port serial.Port, session *interp.Session) *Link {
	return &Link{port: port, session: session, lb: interp.NewLineBuffer()}
}

// Run reads from the port until ctx is cancelled or a read fails,
// assembling and dispatching one line at a time. The port read happens on
// a dedicated goroutine so a byte carrying the "++!" cancel token reaches
// scanAbort (and from there Engine.RequestAbort) immediately, even while
// the dispatch side below is blocked inside a long GPIB read or write —
// the same decoupling a UART receive interrupt gives real hardware. A
// read error other than context cancellation is returned to the caller;
// ctx cancellation returns ctx.Err().
func (l *Link) Run(ctx context.Context) error {
	bytes := make(chan byte, 256)
	readErr := make(chan error, 1)

	go func() {
		var buf [1]byte
		for {
			n, err := l.port.Read(buf[:])
			if err != nil {
				readErr <- err
				return
			}
			if n == 0 {
				continue
			}
			l.scanAbort(buf[0])
			select {
			case bytes <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("hostlink: read: %w", err)
		case b := <-bytes:
			if err := l.Feed(ctx, b); err != nil {
				return err
			}
		}
	}
}

// scanAbort slides b into a 3-byte window and, the instant it reads
// "++!", calls Engine.RequestAbort — independent of whatever line the
// main dispatch loop is still assembling or blocked on.
func (l *Link) scanAbort(b byte) {
	l.abortWindow[0], l.abortWindow[1], l.abortWindow[2] = l.abortWindow[1], l.abortWindow[2], b
	if l.abortWindow == [3]byte{'+', '+', '!'} {
		l.session.Engine.RequestAbort()
	}
}

// Feed processes a single byte as if it had just arrived on the port.
// Run calls this for every byte it reads; a test driving a fake port
// directly can call it without going through Run's blocking read loop.
func (l *Link) Feed(ctx context.Context, b byte) error {
	switch l.lb.Feed(b) {
	case interp.FeedPending:
		return nil
	case interp.FeedOverflowed:
		l.lb.Reset()
		return l.writeLine(fmt.Sprintf("hostlink: line exceeded %d bytes, discarded", interp.LineBufferCapacity))
	default: // FeedLineReady
	}

	line := string(l.lb.Line())
	isCommand := l.lb.IsCommand()
	l.lb.Reset()

	if isCommand {
		out, err := l.session.ProcessLine(line)
		if err != nil {
			return l.writeLine(err.Error())
		}
		if out == "" {
			return nil
		}
		return l.writeLine(out)
	}

	return l.passThrough(ctx, line)
}

// passThrough writes line onto the GPIB bus one byte at a time, the
// controller- or device-talker path a typed line takes when it isn't a
// ++-command. The last byte carries EOI when the session's config has
// EOI enabled. In the device role the line is dropped unless the
// controller has addressed this node to talk (DTAS).
func (l *Link) passThrough(ctx context.Context, line string) error {
	eng := l.session.Engine
	cfg := l.session.Cfg
	eng.ClearAbort()

	if !eng.IsController() && !eng.IsDeviceAddressedToTalk() {
		return nil
	}

	data := append([]byte(line), eosTerminator(cfg.EOSMode)...)

	for i, b := range data {
		last := i == len(data)-1
		if err := eng.WriteByte(ctx, b, last, cfg.EOIEnabled); err != nil {
			return fmt.Errorf("hostlink: pass-through write: %w", err)
		}
	}

	if !eng.IsController() || interp.AutoMode(cfg.AutoMode) == interp.AutoOff {
		return nil
	}
	return l.autoRead(ctx)
}

// autoRead implements ++auto: once a query has gone out, read the
// instrument's reply without requiring an explicit ++read, and echo it
// back to the host. AutoAfterEOI and AutoAfterCRLF both stop at the
// first terminator seen; the distinction that matters to a real
// instrument (EOI line vs. a CR/LF byte pair) collapses here because
// ReadByte already reports EOI to the caller either way.
func (l *Link) autoRead(ctx context.Context) error {
	eng := l.session.Engine
	cfg := l.session.Cfg

	var b strings.Builder
	for {
		value, eoi, err := eng.ReadByte(ctx, cfg.EOIEnabled)
		if err != nil {
			if b.Len() > 0 {
				break
			}
			return fmt.Errorf("hostlink: auto-read: %w", err)
		}
		b.WriteByte(value)
		if eoi {
			break
		}
		if cfg.EOTEnabled && value == cfg.EOTChar {
			break
		}
	}
	return l.writeLine(b.String())
}

// eosTerminator returns the bytes appended to outgoing pass-through
// data for the four EOS settings: 0 CR+LF, 1 CR, 2 LF, 3 none.
func eosTerminator(mode uint8) []byte {
	switch mode {
	case 0:
		return []byte{'\r', '\n'}
	case 1:
		return []byte{'\r'}
	case 2:
		return []byte{'\n'}
	default:
		return nil
	}
}

// ForwardFromBus drains one message arriving over the GPIB bus while
// this engine is the addressed listener (core.DLAS) and writes it out
// to the host port as a line, for use after AttentionService.Poll has put
// the engine into DLAS. Engine.Run does not call it: that loop only runs
// Poll. It has no role on the controller side, where ++read (or ++auto)
// pulls data off the bus instead.
func (l *Link) ForwardFromBus(ctx context.Context) error {
	eng := l.session.Engine
	cfg := l.session.Cfg

	var b strings.Builder
	for {
		value, eoi, err := eng.ReadByte(ctx, cfg.EOIEnabled)
		if err != nil {
			return fmt.Errorf("hostlink: forward from bus: %w", err)
		}
		b.WriteByte(value)
		if eoi {
			break
		}
		if cfg.EOTEnabled && value == cfg.EOTChar {
			break
		}
	}
	return l.writeLine(b.String())
}

func (l *Link) writeLine(s string) error {
	if !strings.HasSuffix(s, lineTerminator) {
		s += lineTerminator
	}
	_, err := l.port.Write([]byte(s))
	if err != nil {
		return fmt.Errorf("hostlink: write: %w", err)
	}
	return nil
}
