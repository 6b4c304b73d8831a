// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioloop

import (
	"errors"
	"fmt"
	"strings"
)

// Standard errors.
var (
	// ErrAlreadyRegistered is returned by AddHandler for a descriptor that
	// already has a handler.
	ErrAlreadyRegistered = errors.New("ioloop: fd already registered")
	// ErrNotRegistered is returned by UpdateHandler for an unknown
	// descriptor.
	ErrNotRegistered = errors.New("ioloop: fd not registered")
	// ErrAlreadyRunning is returned by Start if the loop is being run by
	// another goroutine (or re-entrantly).
	ErrAlreadyRunning = errors.New("ioloop: loop is already running")
	// ErrClosing is returned by operations on a closed or closing loop.
	ErrClosing = errors.New("ioloop: loop is closing")
	// ErrRunning is returned by Close if the loop is running.
	ErrRunning = errors.New("ioloop: cannot close a running loop")
	// ErrInvalidEvents is returned for an empty or unknown interest mask.
	ErrInvalidEvents = errors.New("ioloop: invalid events")
	// ErrNoEngine is returned by New if no engine was configured, and
	// there is no default engine for the platform.
	ErrNoEngine = errors.New("ioloop: no native engine available")
	// ErrNilCallback is returned when registering a nil handler or callback.
	ErrNilCallback = errors.New("ioloop: nil callback")
)

// UnsupportedDeadlineError is returned by AddTimeout for a deadline of an
// unsupported type.
type UnsupportedDeadlineError struct {
	Deadline any
}

func (e *UnsupportedDeadlineError) Error() string {
	return fmt.Sprintf("ioloop: unsupported deadline %v (%T)", e.Deadline, e.Deadline)
}

// ResourceLeakError is the panic value raised by Close if native handles are
// still live after being closed and drained. It indicates a bug.
type ResourceLeakError struct {
	// Handles are the kinds of the handles that remained.
	Handles []string
}

func (e *ResourceLeakError) Error() string {
	return fmt.Sprintf("ioloop: %d native handle(s) still pending after close: %s", len(e.Handles), strings.Join(e.Handles, ", "))
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("ioloop: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, or nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
