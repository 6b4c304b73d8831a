// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioloop

import (
	"errors"
	"time"

	"github.com/joeycumines/go-ioloop/native"
	"github.com/joeycumines/go-ioloop/sigwake"
	"github.com/joeycumines/logiface"
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	engine          native.Engine
	logger          *logiface.Logger[logiface.Event]
	clock           func() time.Time
	signalWakeup    SignalWakeup
	errorHandler    func(error)
	eventBufferSize int
	lockOSThread    bool
}

// --- Loop Options ---

// Option configures a Loop instance.
type Option interface {
	applyLoop(*loopOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (o *optionImpl) applyLoop(opts *loopOptions) error {
	return o.applyLoopFunc(opts)
}

// SignalWakeup registers a process-wide descriptor written to on signal
// delivery. SetWakeupFD returns the previously registered descriptor, or -1.
type SignalWakeup interface {
	SetWakeupFD(fd int) (prev int)
}

// SignalWakeupFunc implements SignalWakeup.
type SignalWakeupFunc func(fd int) (prev int)

// SetWakeupFD calls f.
func (f SignalWakeupFunc) SetWakeupFD(fd int) int { return f(fd) }

// WithEngine sets the native engine. The loop takes ownership, closing it in
// Close. Defaults to a [native.Loop].
func WithEngine(engine native.Engine) Option {
	return &optionImpl{func(opts *loopOptions) error {
		if engine == nil {
			return errors.New("ioloop: nil engine")
		}
		opts.engine = engine
		return nil
	}}
}

// WithLogger sets the logger. Defaults to [logging.Default].
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithClock sets the time source used to normalize timeout deadlines.
// Defaults to [time.Now].
func WithClock(clock func() time.Time) Option {
	return &optionImpl{func(opts *loopOptions) error {
		if clock == nil {
			return errors.New("ioloop: nil clock")
		}
		opts.clock = clock
		return nil
	}}
}

// WithSignalWakeup sets the signal wakeup hook, used while running to ensure
// signal delivery unblocks the poller. A nil value disables the behavior.
// Defaults to [sigwake.SetWakeupFD].
func WithSignalWakeup(hook SignalWakeup) Option {
	return &optionImpl{func(opts *loopOptions) error {
		opts.signalWakeup = hook
		return nil
	}}
}

// WithErrorHandler registers fn to receive errors returned by (or panics
// recovered from) handlers and callbacks, after they are logged. It is called
// on the loop goroutine, and must not panic.
func WithErrorHandler(fn func(error)) Option {
	return &optionImpl{func(opts *loopOptions) error {
		opts.errorHandler = fn
		return nil
	}}
}

// WithLockOSThread sets whether Start locks the running goroutine to its OS
// thread.
func WithLockOSThread(enabled bool) Option {
	return &optionImpl{func(opts *loopOptions) error {
		opts.lockOSThread = enabled
		return nil
	}}
}

// WithEventBufferSize sets the readiness event buffer size of the default
// engine. Ignored if WithEngine is used.
func WithEventBufferSize(n int) Option {
	return &optionImpl{func(opts *loopOptions) error {
		if n < 0 {
			return errors.New("ioloop: negative event buffer size")
		}
		opts.eventBufferSize = n
		return nil
	}}
}

// resolveOptions applies Option instances to loopOptions.
func resolveOptions(opts []Option) (*loopOptions, error) {
	cfg := &loopOptions{
		clock:        time.Now,
		signalWakeup: SignalWakeupFunc(sigwake.SetWakeupFD),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
