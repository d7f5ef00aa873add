package core

// RequestAbort flags the in-flight (or next) ReadByte/WriteByte call to
// bail out at its next poll tick. Set by a host-link watcher that scans
// incoming serial bytes for the "++!" cancel token independently of
// whatever the main loop is currently blocked on, the same way a UART
// receive interrupt would let real hardware notice the token mid-transfer.
func (e *Engine) RequestAbort() { e.isAbort.Set(true) }

// ClearAbort resets the flag. Session.ProcessLine calls this before
// dispatching each new command so a stale abort from a finished operation
// doesn't immediately cancel the next one.
func (e *Engine) ClearAbort() { e.isAbort.Set(false) }

// AbortRequested reports whether RequestAbort has been called since the
// last ClearAbort.
func (e *Engine) AbortRequested() bool { return e.isAbort.Get() }
