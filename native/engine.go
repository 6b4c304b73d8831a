// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package native

import (
	"errors"
	"time"
)

// Events is a native readiness interest / notification mask.
type Events uint32

const (
	// Readable indicates the descriptor is ready for reading.
	Readable Events = 1 << iota
	// Writable indicates the descriptor is ready for writing.
	Writable
	// Disconnect indicates the peer closed its end of the connection.
	Disconnect
)

// RunMode selects how long a call to [Engine.Run] blocks.
type RunMode int

const (
	// RunDefault runs until there are no more active handles, or Stop is
	// called.
	RunDefault RunMode = iota
	// RunOnce performs a single iteration, blocking in poll if there is
	// nothing pending.
	RunOnce
	// RunNoWait performs a single iteration without blocking.
	RunNoWait
)

func (m RunMode) String() string {
	switch m {
	case RunDefault:
		return "default"
	case RunOnce:
		return "once"
	case RunNoWait:
		return "nowait"
	default:
		return "unknown"
	}
}

// Standard errors.
var (
	ErrClosed        = errors.New("native: loop closed")
	ErrBusy          = errors.New("native: loop has live handles")
	ErrHandleClosing = errors.New("native: handle is closing")
	ErrFDInUse       = errors.New("native: fd already has a poll handle")
	ErrFDOutOfRange  = errors.New("native: fd out of range")
	ErrReentrantRun  = errors.New("native: run called from within a callback")
	ErrPollCondition = errors.New("native: poll error condition")
)

type (
	// Engine is the poll/timer engine driven by the I/O loop.
	//
	// All methods, and all methods of the handles it creates, must be called
	// from the goroutine running the engine (or before it is first run),
	// except Stop and [Async.Send], which are safe for concurrent use.
	Engine interface {
		// NewPoll creates a readiness registration for fd. At most one
		// poll handle may exist for a given fd.
		NewPoll(fd int) (Poll, error)
		NewTimer() (Timer, error)
		NewPrepare() (Prepare, error)
		// NewAsync creates a started wakeup handle, cb runs on the loop
		// goroutine once per batch of coalesced Send calls.
		NewAsync(cb func(Async)) (Async, error)

		// Run runs the engine in the given mode, returning true if there
		// are still live (active or closing) handles.
		Run(mode RunMode) (alive bool, err error)
		// Stop causes Run to return at the end of the current iteration,
		// without blocking in poll.
		Stop()
		// Walk calls fn for each handle that has not finished closing.
		Walk(fn func(Handle))
		// Close releases the engine. It fails with ErrBusy if any handle
		// is still live.
		Close() error
	}

	// Handle is the behavior common to all engine handles.
	Handle interface {
		// Close stops the handle and schedules cb (may be nil) to run
		// during the closing phase of the next iteration. Calling Close
		// more than once is a no-op.
		Close(cb func())
		IsActive() bool
		IsClosing() bool
		// Kind returns a short name for the handle type, e.g. "poll".
		Kind() string
	}

	// PollCallback receives readiness for a poll handle. A non-nil err
	// indicates an error condition on the descriptor.
	PollCallback func(p Poll, events Events, err error)

	Poll interface {
		Handle
		Fd() int
		// Start begins (or replaces) the interest mask and callback.
		Start(events Events, cb PollCallback) error
		Stop() error
	}

	Timer interface {
		Handle
		// Start arms the timer to fire after timeout, measured from the
		// time of the call, then every repeat (if non-zero). A negative
		// timeout is treated as zero.
		Start(cb func(Timer), timeout, repeat time.Duration) error
		Stop() error
		// Due returns the time the timer will next fire, relative to the
		// engine's loop time.
		Due() time.Time
	}

	// Prepare runs its callback once per iteration, just before polling.
	Prepare interface {
		Handle
		Start(cb func(Prepare)) error
		Stop() error
	}

	// Async wakes the engine from any goroutine.
	Async interface {
		Handle
		// Send is safe for concurrent use, does not block, and coalesces
		// with other pending sends.
		Send() error
	}
)
