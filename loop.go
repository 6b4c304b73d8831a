// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioloop

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/joeycumines/go-ioloop/logging"
	"github.com/joeycumines/go-ioloop/native"
	"github.com/joeycumines/go-ioloop/sigwake"
	"github.com/joeycumines/logiface"
	"go.uber.org/atomic"
)

// Loop runs readiness handlers, timeouts and deferred callbacks on a single
// goroutine, driving a [native.Engine].
//
// Handler and timeout registration must happen on the goroutine running the
// loop (i.e. from a callback), or while the loop is not running. AddCallback,
// AddCallbackFromSignal, Stop and IsRunning are safe for concurrent use.
type Loop struct {
	engine       native.Engine
	logger       *logiface.Logger[logiface.Event]
	clock        func() time.Time
	errorHandler func(error)
	signalWakeup SignalWakeup

	handlers  map[int]*registration
	timeouts  map[*Timeout]struct{}
	callbacks callbackQueue

	prepare native.Prepare
	waker   waker

	// signal wakeup workaround, see installSignalWakeup
	signalChecker native.Poll
	signalPipe    int
	signalPipeW   int

	// held for the duration of run and close
	runMu sync.Mutex

	owner   *atomic.Uint64
	running *atomic.Bool
	stopped *atomic.Bool
	closed  *atomic.Bool

	lockOSThread bool
}

// New creates a Loop. Unless WithEngine is used, a [native.Loop] is created,
// which requires Linux or Darwin.
func New(opts ...Option) (*Loop, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	engine := cfg.engine
	if engine == nil {
		if engine, err = defaultEngine(cfg.eventBufferSize); err != nil {
			return nil, fmt.Errorf("ioloop: create engine: %w", err)
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = logging.Default()
	}

	l := &Loop{
		engine:       engine,
		logger:       logger,
		clock:        cfg.clock,
		errorHandler: cfg.errorHandler,
		signalWakeup: cfg.signalWakeup,
		handlers:     make(map[int]*registration),
		timeouts:     make(map[*Timeout]struct{}),
		signalPipe:   -1,
		signalPipeW:  -1,
		owner:        atomic.NewUint64(0),
		running:      atomic.NewBool(false),
		stopped:      atomic.NewBool(false),
		closed:       atomic.NewBool(false),
		lockOSThread: cfg.lockOSThread,
	}

	if err := l.init(); err != nil {
		l.abort()
		return nil, err
	}

	return l, nil
}

func (l *Loop) init() (err error) {
	if l.prepare, err = l.engine.NewPrepare(); err != nil {
		return fmt.Errorf("ioloop: create prepare hook: %w", err)
	}

	async, err := l.engine.NewAsync(l.onWake)
	if err != nil {
		return fmt.Errorf("ioloop: create waker: %w", err)
	}
	l.waker = waker{async: async}

	if l.signalWakeup != nil {
		r, w, err := sigwake.Pipe()
		if err != nil {
			// best effort, signals may be delayed
			l.logger.Warning().Err(err).Log("signal wakeup unavailable")
			l.signalWakeup = nil
			return nil
		}
		l.signalPipe, l.signalPipeW = r, w
		if l.signalChecker, err = l.engine.NewPoll(l.signalPipe); err != nil {
			return fmt.Errorf("ioloop: create signal checker: %w", err)
		}
	}

	return nil
}

// abort releases everything after a failed init.
func (l *Loop) abort() {
	l.engine.Walk(func(h native.Handle) { h.Close(nil) })
	_, _ = l.engine.Run(native.RunNoWait)
	_ = l.engine.Close()
	l.closeSignalPipe()
}

// Start runs the loop on the calling goroutine until Stop is called. If Stop
// was called while the loop was not running, Start returns immediately,
// consuming the stop.
func (l *Loop) Start() error {
	return l.run(nil)
}

// Run is Start, except it also stops when ctx is done, returning ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return l.run(ctx)
}

func (l *Loop) run(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosing
	}
	if !l.runMu.TryLock() {
		return ErrAlreadyRunning
	}
	defer l.runMu.Unlock()

	if l.closed.Load() {
		return ErrClosing
	}

	// a stop issued while the loop was not running is consumed here
	if l.stopped.Swap(false) {
		return nil
	}
	l.running.Store(true)
	defer l.running.Store(false)

	if l.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	l.owner.Store(getGoroutineID())
	defer l.owner.Store(0)

	if ctx != nil && ctx.Done() != nil {
		ctxDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				l.waker.wake()
			case <-ctxDone:
			}
		}()
		defer close(ctxDone)
	}

	restore := l.installSignalWakeup()
	defer restore()

	// callbacks queued by other goroutines before start
	l.syncPrepare()

	l.logger.Debug().Log("loop started")

	// every Stop is consumed by exactly one Swap, either above or here
	for !l.stopped.Swap(false) {
		if ctx != nil && ctx.Err() != nil {
			break
		}
		if _, err := l.engine.Run(native.RunOnce); err != nil {
			l.logger.Crit().Err(err).Log("native engine failed")
			return fmt.Errorf("ioloop: engine run: %w", err)
		}
	}

	l.logger.Debug().Log("loop stopped")

	if ctx != nil {
		return ctx.Err()
	}
	return nil
}

// Stop requests the loop to stop. It may be called from any goroutine, and
// returns without waiting for the loop to unwind. If the loop is not
// running, the next Start returns immediately. Calls made before the loop
// observes the request coalesce into one.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	if l.isLoopThread() {
		l.engine.Stop()
	}
	l.waker.wake()
}

// IsRunning reports whether the loop is inside Start (or Run).
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Close releases the loop and its engine. Registered handlers are dropped
// without being invoked, pending timeouts and callbacks are discarded.
//
// Close panics with a *ResourceLeakError if the engine still has live
// handles after they were all closed.
func (l *Loop) Close() error {
	return l.close(false)
}

// CloseAll is Close, except it also closes the descriptor of each registered
// handler.
func (l *Loop) CloseAll() error {
	return l.close(true)
}

func (l *Loop) close(closeFDs bool) error {
	if !l.runMu.TryLock() {
		return ErrRunning
	}
	defer l.runMu.Unlock()

	discarded, err := l.callbacks.close()
	if err != nil {
		return err
	}
	l.closed.Store(true)

	l.logger.Debug().
		Int("handlers", len(l.handlers)).
		Int("timeouts", len(l.timeouts)).
		Int("callbacks", discarded).
		Log("closing loop")

	l.clearHandlers(closeFDs)
	l.clearTimeouts()

	l.engine.Walk(func(h native.Handle) {
		if !h.IsClosing() {
			h.Close(nil)
		}
	})

	alive, err := l.engine.Run(native.RunNoWait)
	if err != nil {
		l.logger.Err().Err(err).Log("native engine failed while closing")
	}
	if alive {
		var kinds []string
		l.engine.Walk(func(h native.Handle) { kinds = append(kinds, h.Kind()) })
		panic(&ResourceLeakError{Handles: kinds})
	}

	err = l.engine.Close()
	l.closeSignalPipe()
	if err != nil {
		return fmt.Errorf("ioloop: close engine: %w", err)
	}
	return nil
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	id := l.owner.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

// safeCall runs fn, converting a panic into a *PanicError.
func safeCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

// runCallback runs a deferred callback, logging any panic.
func (l *Loop) runCallback(cb func()) {
	if err := safeCall(cb); err != nil {
		l.logger.Err().Err(err).Log("exception in callback")
		l.reportError(err)
	}
}

func (l *Loop) reportError(err error) {
	if l.errorHandler != nil {
		l.errorHandler(err)
	}
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
