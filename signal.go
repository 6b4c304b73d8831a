package ioloop

import (
	"github.com/joeycumines/go-ioloop/native"
	"github.com/joeycumines/go-ioloop/sigwake"
)

// installSignalWakeup points the process signal wakeup descriptor at the
// loop's pipe, unless another descriptor is already registered, in which
// case signals may not interrupt a blocked poll until some other event
// arrives. The returned func restores the previous state.
func (l *Loop) installSignalWakeup() (restore func()) {
	if l.signalWakeup == nil || l.signalChecker == nil {
		return func() {}
	}

	prev := l.signalWakeup.SetWakeupFD(l.signalPipeW)
	if prev != -1 {
		l.signalWakeup.SetWakeupFD(prev)
		l.logger.Debug().
			Int("fd", prev).
			Log("signal wakeup fd already registered, signals may be delayed")
		return func() {}
	}

	err := l.signalChecker.Start(native.Readable, func(native.Poll, native.Events, error) {
		sigwake.Drain(l.signalPipe)
	})
	if err != nil {
		l.signalWakeup.SetWakeupFD(prev)
		l.logger.Err().Err(err).Log("failed to watch signal wakeup fd")
		return func() {}
	}

	l.logger.Debug().Int("fd", l.signalPipeW).Log("installed signal wakeup fd")

	return func() {
		_ = l.signalChecker.Stop()
		l.signalWakeup.SetWakeupFD(prev)
	}
}

func (l *Loop) closeSignalPipe() {
	for _, fd := range [...]int{l.signalPipe, l.signalPipeW} {
		if fd >= 0 {
			_ = closeFD(fd)
		}
	}
	l.signalPipe, l.signalPipeW = -1, -1
}
