// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package sigwake implements a process-wide "signal delivery also writes to
// this descriptor" hook, for waking pollers that cannot otherwise observe
// signals.
//
// Signals are only relayed if they were subscribed to via Notify. Each
// delivery writes the signal number (one byte) to the registered descriptor,
// if any, before forwarding the signal to the subscribed channels.
package sigwake

import (
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
)

var state = struct {
	mu    sync.Mutex
	relay chan os.Signal
	subs  map[chan<- os.Signal][]os.Signal
	fd    int
}{
	fd: -1,
}

// SetWakeupFD registers fd as the process-wide wakeup descriptor, returning
// the previously registered descriptor. A negative fd disables the hook, and
// -1 is returned if nothing was registered.
//
// The descriptor should be non-blocking, as writes that would block are
// dropped.
func SetWakeupFD(fd int) (prev int) {
	if fd < 0 {
		fd = -1
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	prev = state.fd
	state.fd = fd
	return prev
}

// WakeupFD returns the registered wakeup descriptor, or -1.
func WakeupFD() int {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.fd
}

// Notify behaves like [signal.Notify], except each delivery is also written
// to the wakeup descriptor. Sends to c do not block; a full channel drops
// the signal.
func Notify(c chan<- os.Signal, sig ...os.Signal) {
	if c == nil {
		panic("sigwake: Notify using nil channel")
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.relay == nil {
		state.relay = make(chan os.Signal, 16)
		state.subs = make(map[chan<- os.Signal][]os.Signal)
		go relay(state.relay)
	}

	for _, s := range sig {
		if !slices.Contains(state.subs[c], s) {
			state.subs[c] = append(state.subs[c], s)
		}
	}

	signal.Notify(state.relay, sig...)
}

// Stop unsubscribes c from all signals.
func Stop(c chan<- os.Signal) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, ok := state.subs[c]; !ok {
		return
	}
	delete(state.subs, c)

	var union []os.Signal
	for _, sigs := range state.subs {
		for _, s := range sigs {
			if !slices.Contains(union, s) {
				union = append(union, s)
			}
		}
	}

	signal.Stop(state.relay)
	if len(union) != 0 {
		signal.Notify(state.relay, union...)
	}
}

func relay(ch <-chan os.Signal) {
	var targets []chan<- os.Signal
	for sig := range ch {
		state.mu.Lock()
		fd := state.fd
		targets = targets[:0]
		for c, sigs := range state.subs {
			if slices.Contains(sigs, sig) {
				targets = append(targets, c)
			}
		}
		state.mu.Unlock()

		if fd >= 0 {
			var n byte
			if s, ok := sig.(syscall.Signal); ok {
				n = byte(s)
			}
			_ = writeFD(fd, []byte{n})
		}

		for _, c := range targets {
			select {
			case c <- sig:
			default:
			}
		}
	}
}
