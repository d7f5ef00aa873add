package core

// DebugWriter is a function type for writing debug messages. The concrete
// sink (UART echo, a log file, /dev/null) is an out-of-scope external
// collaborator; this package only defines the seam and a non-blocking
// default.
type DebugWriter func(string)

// TraceEvent captures a bus-timing event for post-mortem analysis: a
// handshake phase that failed, an abort, or a state transition.
type TraceEvent struct {
	EventType uint8  // Event type code (Evt*)
	State     uint8  // BusState at the time of the event
	Phase     uint8  // Handshake phase involved, if any
	Clock     uint32 // Monotonic tick at the event
}

// Event type codes.
const (
	EvtStateChange  = 1 // setControls transitioned state
	EvtReadTimeout  = 2 // readByte timed out or aborted
	EvtWriteTimeout = 3 // writeByte timed out or aborted
	EvtIFCAbort     = 4 // handshake aborted because IFC asserted
	EvtATNAbort     = 5 // handshake aborted because ATN asserted
	EvtSRQAssert    = 6 // setStatus raised SRQ
	EvtSRQClear     = 7 // sendStatus/clrSrqSig lowered SRQ
	EvtUserAbort    = 8 // handshake aborted by the ++! cancel token
)

const (
	TraceRingSize = 32 // Keep the last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Trace capture ring buffer (non-blocking, for post-mortem)
	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8
	traceEnabled  bool = true

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the sink-specific debug output function. This allows
// the host process to redirect debug output to a structured logger, a
// file, or nowhere at all.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled.
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine. Call this once
// after SetDebugWriter if the sink may block.
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the configured sink. Blocks if
// debug is enabled and the sink blocks; use DebugAsync for non-blocking.
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking).
// Drops the message if the channel is full rather than stalling the
// cooperative loop.
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordTrace captures a bus event in the ring buffer. Always non-blocking.
func RecordTrace(eventType, state, phase uint8, clock uint32) {
	if !traceEnabled {
		return
	}
	idx := traceRingHead
	traceRing[idx] = TraceEvent{
		EventType: eventType,
		State:     state,
		Phase:     phase,
		Clock:     clock,
	}
	traceRingHead = (idx + 1) % TraceRingSize
}

// DumpTrace outputs the trace ring buffer, oldest first.
func DumpTrace() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TRACE] === Bus Trace Dump ===")

	start := traceRingHead
	for i := uint8(0); i < TraceRingSize; i++ {
		idx := (start + i) % TraceRingSize
		evt := &traceRing[idx]
		if evt.EventType == 0 {
			continue
		}

		var name string
		switch evt.EventType {
		case EvtStateChange:
			name = "STATE_CHANGE"
		case EvtReadTimeout:
			name = "READ_TIMEOUT"
		case EvtWriteTimeout:
			name = "WRITE_TIMEOUT"
		case EvtIFCAbort:
			name = "IFC_ABORT"
		case EvtATNAbort:
			name = "ATN_ABORT"
		case EvtSRQAssert:
			name = "SRQ_ASSERT"
		case EvtSRQClear:
			name = "SRQ_CLEAR"
		case EvtUserAbort:
			name = "USER_ABORT"
		default:
			name = "UNKNOWN"
		}

		debugPrintln("[TRACE] " + name +
			" state=" + itoa(int(evt.State)) +
			" phase=" + itoa(int(evt.Phase)) +
			" clock=" + itoa(int(evt.Clock)))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTrace clears the trace buffer.
func ClearTrace() {
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
}
