package sim

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Read/Write after Close.
var ErrClosed = errors.New("sim: fake serial port closed")

// FakePort is a scriptable host/serial.Port backed by a byte channel:
// Read blocks until Feed supplies data or Close unblocks it, the same
// shape a real blocking USB-serial device presents to hostlink.Link.Run.
// Writes land in outbox for a test to assert on.
type FakePort struct {
	inbox  chan byte
	done   chan struct{}
	closed sync.Once

	mu     sync.Mutex
	outbox []byte
}

// NewFakePort returns an empty FakePort.
func NewFakePort() *FakePort {
	return &FakePort{
		inbox: make(chan byte, 4096),
		done:  make(chan struct{}),
	}
}

// Feed queues data to be returned by future Reads, as if it had just
// arrived on the wire. A no-op for any bytes not yet accepted once the
// port has been closed.
func (f *FakePort) Feed(data []byte) {
	for _, b := range data {
		select {
		case f.inbox <- b:
		case <-f.done:
			return
		}
	}
}

// Written returns and clears everything written so far, for a test to
// assert against.
func (f *FakePort) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.outbox
	f.outbox = nil
	return out
}

// Read blocks for at least one byte, same as a real serial port with no
// read timeout, returning ErrClosed once Close has been called and the
// fed backlog is drained.
func (f *FakePort) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	select {
	case v, ok := <-f.inbox:
		if !ok {
			return 0, ErrClosed
		}
		b[0] = v
		return 1, nil
	case <-f.done:
		select {
		case v := <-f.inbox:
			b[0] = v
			return 1, nil
		default:
			return 0, ErrClosed
		}
	}
}

func (f *FakePort) Write(b []byte) (int, error) {
	select {
	case <-f.done:
		return 0, ErrClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbox = append(f.outbox, b...)
	return len(b), nil
}

func (f *FakePort) Close() error {
	f.closed.Do(func() { close(f.done) })
	return nil
}

func (f *FakePort) Flush() error {
	return nil
}
