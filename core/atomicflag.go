package core

import "sync/atomic"

// atomicFlag is a lock-free boolean set by an edge watcher (interrupt on
// tinygo, a goroutine on host Go) and polled by the cooperative main loop.
// It exists so the watcher and the loop never need a mutex between them.
type atomicFlag struct {
	v int32
}

func (f *atomicFlag) Set(asserted bool) {
	if asserted {
		atomic.StoreInt32(&f.v, 1)
	} else {
		atomic.StoreInt32(&f.v, 0)
	}
}

func (f *atomicFlag) Get() bool {
	return atomic.LoadInt32(&f.v) != 0
}
