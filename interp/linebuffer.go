// Package interp implements the ++-command line interpreter: it
// multiplexes interface commands (++addr, ++read, ...) with pass-through
// bytes bound for or arriving from the attached instrument.
package interp

// Control characters recognized while assembling a line.
const (
	escByte byte = 0x1B // ESC: escapes the next byte, so it's taken literally
	crByte  byte = 0x0D
	lfByte  byte = 0x0A
)

// LineBufferCapacity is the largest single line the interpreter will
// assemble before discarding the remainder and reporting overflow. Fixed
// and flat, not a ring: a line is a bounded unit of work, not a stream.
const LineBufferCapacity = 128

// FeedResult tells the caller what Feed just did to the line.
type FeedResult uint8

const (
	FeedPending    FeedResult = iota // more bytes needed
	FeedLineReady                    // a complete line is available via Line()
	FeedOverflowed                   // the line exceeded capacity and was dropped
)

// LineBuffer assembles one line at a time from a byte stream, honoring
// the ESC-escapes-next-byte rule that lets a caller send a literal '+' or
// line terminator through to the instrument without it being mistaken
// for part of the ++-command syntax.
type LineBuffer struct {
	buf [LineBufferCapacity]byte
	pos int

	escapePending bool
	escapedFirst  bool // buf[0] arrived via an escape
	escapedSecond bool // buf[1] arrived via an escape
	overflowed    bool
}

// NewLineBuffer returns an empty LineBuffer.
func NewLineBuffer() *LineBuffer {
	return &LineBuffer{}
}

// Feed adds one byte to the line in progress.
func (l *LineBuffer) Feed(b byte) FeedResult {
	if l.escapePending {
		l.escapePending = false
		l.append(b, true)
		return FeedPending
	}

	switch b {
	case escByte:
		l.escapePending = true
		return FeedPending
	case crByte, lfByte:
		if l.pos == 0 {
			// Swallow a lone trailing LF after a CR, or a blank line.
			return FeedPending
		}
		result := FeedLineReady
		if l.overflowed {
			result = FeedOverflowed
		}
		return result
	default:
		l.append(b, false)
		return FeedPending
	}
}

func (l *LineBuffer) append(b byte, escaped bool) {
	if l.pos >= LineBufferCapacity {
		l.overflowed = true
		return
	}
	if l.pos == 0 {
		l.escapedFirst = escaped
	} else if l.pos == 1 {
		l.escapedSecond = escaped
	}
	l.buf[l.pos] = b
	l.pos++
}

// Line returns the bytes assembled since the last Reset. Only meaningful
// after Feed returns FeedLineReady or FeedOverflowed.
func (l *LineBuffer) Line() []byte {
	return l.buf[:l.pos]
}

// IsCommand reports whether the assembled line is a ++-prefixed
// interface command rather than pass-through data. An escaped leading
// '+' (sent to get a literal plus to the instrument) never counts as a
// command, no matter what follows it.
func (l *LineBuffer) IsCommand() bool {
	return l.pos >= 2 &&
		l.buf[0] == '+' && l.buf[1] == '+' &&
		!l.escapedFirst && !l.escapedSecond
}

// Reset clears the buffer for the next line. Callers must call this
// after consuming a line that Feed reported ready, whether or not it
// overflowed.
func (l *LineBuffer) Reset() {
	l.pos = 0
	l.escapePending = false
	l.escapedFirst = false
	l.escapedSecond = false
	l.overflowed = false
}
