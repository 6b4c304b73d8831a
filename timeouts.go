// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioloop

import (
	"fmt"
	"math"
	"time"

	"github.com/joeycumines/go-ioloop/native"
)

// Timeout is a pending call, created by AddTimeout.
type Timeout struct {
	deadline time.Time
	callback func()
	loop     *Loop
	timer    native.Timer
}

// Deadline returns the time the timeout is due.
func (t *Timeout) Deadline() time.Time {
	return t.deadline
}

// Cancel is equivalent to RemoveTimeout.
func (t *Timeout) Cancel() {
	if t != nil && t.loop != nil {
		t.loop.RemoveTimeout(t)
	}
}

// AddTimeout schedules callback to run on the loop goroutine at deadline,
// which may be any of:
//
//   - time.Time, an absolute deadline
//   - time.Duration, relative to Now
//   - float64, float32, int, int64 or uint64, seconds since the Unix epoch,
//     on the same scale as Time
//
// A deadline in the past runs on the next pass, never from within
// AddTimeout. Must be called on the loop goroutine, or while the loop is not
// running.
func (l *Loop) AddTimeout(deadline any, callback func()) (*Timeout, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	now := l.clock()
	when, err := normalizeDeadline(now, deadline)
	if err != nil {
		return nil, err
	}
	return l.addTimeout(now, when, callback)
}

// CallLater runs callback after delay.
func (l *Loop) CallLater(delay time.Duration, callback func()) (*Timeout, error) {
	return l.AddTimeout(delay, callback)
}

// CallAt runs callback at when.
func (l *Loop) CallAt(when time.Time, callback func()) (*Timeout, error) {
	return l.AddTimeout(when, callback)
}

func (l *Loop) addTimeout(now, when time.Time, callback func()) (*Timeout, error) {
	if l.closed.Load() {
		return nil, ErrClosing
	}

	timer, err := l.engine.NewTimer()
	if err != nil {
		return nil, fmt.Errorf("ioloop: create timer: %w", err)
	}

	t := &Timeout{
		deadline: when,
		callback: callback,
		loop:     l,
		timer:    timer,
	}

	if err := timer.Start(func(native.Timer) { l.fireTimeout(t) }, max(when.Sub(now), 0), 0); err != nil {
		timer.Close(nil)
		return nil, fmt.Errorf("ioloop: start timer: %w", err)
	}

	l.timeouts[t] = struct{}{}
	return t, nil
}

// RemoveTimeout cancels t. It is a no-op if t already ran, or was already
// removed.
func (l *Loop) RemoveTimeout(t *Timeout) {
	if t == nil {
		return
	}
	if _, ok := l.timeouts[t]; !ok {
		return
	}
	delete(l.timeouts, t)
	t.timer.Close(nil)
}

// NumTimeouts returns the number of pending timeouts.
func (l *Loop) NumTimeouts() int {
	return len(l.timeouts)
}

// Now returns the current time, per the loop's clock.
func (l *Loop) Now() time.Time {
	return l.clock()
}

// Time returns Now, as seconds since the Unix epoch.
func (l *Loop) Time() float64 {
	return float64(l.clock().UnixNano()) / float64(time.Second)
}

func (l *Loop) fireTimeout(t *Timeout) {
	if _, ok := l.timeouts[t]; !ok {
		return
	}
	delete(l.timeouts, t)
	t.timer.Close(nil)

	if err := safeCall(t.callback); err != nil {
		l.logger.Err().
			Err(err).
			Time("deadline", t.deadline).
			Log("exception in timeout callback")
		l.reportError(err)
	}
}

func (l *Loop) clearTimeouts() {
	for t := range l.timeouts {
		delete(l.timeouts, t)
		t.timer.Close(nil)
	}
}

func normalizeDeadline(now time.Time, deadline any) (time.Time, error) {
	switch v := deadline.(type) {
	case time.Time:
		return v, nil
	case time.Duration:
		return now.Add(v), nil
	case float64:
		return unixSeconds(v, deadline)
	case float32:
		return unixSeconds(float64(v), deadline)
	case int:
		return time.Unix(int64(v), 0), nil
	case int64:
		return time.Unix(v, 0), nil
	case uint64:
		if v > math.MaxInt64 {
			return time.Time{}, &UnsupportedDeadlineError{Deadline: deadline}
		}
		return time.Unix(int64(v), 0), nil
	default:
		return time.Time{}, &UnsupportedDeadlineError{Deadline: deadline}
	}
}

func unixSeconds(v float64, deadline any) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt64/float64(time.Second) {
		return time.Time{}, &UnsupportedDeadlineError{Deadline: deadline}
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))), nil
}
