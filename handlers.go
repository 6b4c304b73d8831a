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
	"syscall"

	"github.com/joeycumines/go-ioloop/native"
)

// Events is a readiness mask.
type Events uint32

const (
	Readable Events = 0x001
	Writable Events = 0x004

	ReadWrite = Readable | Writable
)

func (e Events) String() string {
	var parts []string
	if e&Readable != 0 {
		parts = append(parts, "READABLE")
	}
	if e&Writable != 0 {
		parts = append(parts, "WRITABLE")
	}
	if rest := e &^ ReadWrite; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

func (e Events) valid() bool {
	return e != 0 && e&^ReadWrite == 0
}

func (e Events) toNative() (n native.Events) {
	if e&Readable != 0 {
		n |= native.Readable
	}
	if e&Writable != 0 {
		n |= native.Writable
	}
	return n
}

// fromNative translates readiness, restricted to interest. A hangup is
// reported as Readable, or as Writable to a handler only waiting to write.
func fromNative(n native.Events, interest Events) (e Events) {
	if n&native.Readable != 0 {
		e |= Readable
	}
	if n&native.Writable != 0 {
		e |= Writable
	}
	if n&native.Disconnect != 0 {
		if interest&Readable != 0 {
			e |= Readable
		} else {
			e |= Writable
		}
	}
	return e & interest
}

// HandlerFunc receives readiness for a registered descriptor. A returned
// error is logged, unless it is [syscall.EPIPE].
type HandlerFunc func(fd int, events Events) error

type registration struct {
	handler HandlerFunc
	poll    native.Poll
	fd      int
	events  Events
}

// AddHandler registers handler to be called when fd is ready for any of
// events. Only one handler may be registered per descriptor.
//
// Like the other handler methods, AddHandler must be called on the loop
// goroutine, or while the loop is not running.
func (l *Loop) AddHandler(fd int, events Events, handler HandlerFunc) error {
	if handler == nil {
		return ErrNilCallback
	}
	if !events.valid() {
		return ErrInvalidEvents
	}
	if l.closed.Load() {
		return ErrClosing
	}
	if _, ok := l.handlers[fd]; ok {
		return ErrAlreadyRegistered
	}

	poll, err := l.engine.NewPoll(fd)
	if err != nil {
		return fmt.Errorf("ioloop: register fd %d: %w", fd, err)
	}

	r := &registration{
		handler: handler,
		poll:    poll,
		fd:      fd,
		events:  events,
	}

	if err := poll.Start(events.toNative(), r.callback(l)); err != nil {
		poll.Close(nil)
		return fmt.Errorf("ioloop: start poll for fd %d: %w", fd, err)
	}

	l.handlers[fd] = r
	return nil
}

// UpdateHandler replaces the interest mask of the handler for fd.
func (l *Loop) UpdateHandler(fd int, events Events) error {
	if !events.valid() {
		return ErrInvalidEvents
	}
	if l.closed.Load() {
		return ErrClosing
	}
	r, ok := l.handlers[fd]
	if !ok {
		return ErrNotRegistered
	}
	if err := r.poll.Start(events.toNative(), r.callback(l)); err != nil {
		return fmt.Errorf("ioloop: update poll for fd %d: %w", fd, err)
	}
	r.events = events
	return nil
}

// RemoveHandler unregisters the handler for fd, if any.
func (l *Loop) RemoveHandler(fd int) {
	r, ok := l.handlers[fd]
	if !ok {
		return
	}
	delete(l.handlers, fd)
	_ = r.poll.Stop()
	r.poll.Close(nil)
}

// HandlerEvents returns the interest mask registered for fd.
func (l *Loop) HandlerEvents(fd int) (Events, bool) {
	r, ok := l.handlers[fd]
	if !ok {
		return 0, false
	}
	return r.events, true
}

// NumHandlers returns the number of registered handlers.
func (l *Loop) NumHandlers() int {
	return len(l.handlers)
}

func (r *registration) callback(l *Loop) native.PollCallback {
	return func(_ native.Poll, events native.Events, err error) {
		l.handlePollEvents(r, events, err)
	}
}

func (l *Loop) handlePollEvents(r *registration, events native.Events, pollErr error) {
	if l.handlers[r.fd] != r {
		// removed (or replaced) earlier in the same pass
		return
	}

	var mask Events
	if pollErr != nil {
		mask = ReadWrite
	} else {
		mask = fromNative(events, r.events)
	}
	if mask == 0 {
		return
	}

	var handlerErr error
	err := safeCall(func() { handlerErr = r.handler(r.fd, mask) })
	if err == nil {
		err = handlerErr
	}
	if err == nil || errors.Is(err, syscall.EPIPE) {
		return
	}

	l.logger.Err().
		Err(err).
		Int("fd", r.fd).
		Str("events", mask.String()).
		Log("exception in I/O handler")
	l.reportError(fmt.Errorf("ioloop: handler for fd %d: %w", r.fd, err))
}

// clearHandlers drops every registration without invoking it, optionally
// closing the descriptors.
func (l *Loop) clearHandlers(closeFDs bool) {
	for fd, r := range l.handlers {
		delete(l.handlers, fd)
		_ = r.poll.Stop()
		r.poll.Close(nil)
		if closeFDs {
			if err := closeFD(fd); err != nil {
				l.logger.Debug().Err(err).Int("fd", fd).Log("error closing fd")
			}
		}
	}
}
