package ioloop

import (
	"github.com/joeycumines/go-ioloop/native"
)

// waker unblocks the engine's poll phase, from any goroutine.
type waker struct {
	async native.Async
}

func (w waker) wake() {
	if w.async != nil {
		// only fails once the engine is closed
		_ = w.async.Send()
	}
}

// onWake runs on the loop goroutine, after one or more wake calls.
func (l *Loop) onWake(native.Async) {
	if l.stopped.Load() {
		l.engine.Stop()
		return
	}
	l.syncPrepare()
}
