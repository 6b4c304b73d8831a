// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package native

import (
	"container/heap"
	"errors"
	"math"
	"slices"
	"sync"
	"syscall"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// DefaultEventBufferSize is the number of readiness events read per poll
// when Config.EventBufferSize is unset.
const DefaultEventBufferSize = 256

// Config configures a Loop.
type Config struct {
	// EventBufferSize is the maximum number of events fetched per poll.
	EventBufferSize int
}

// Loop is the default Engine, backed by epoll (Linux) or kqueue (Darwin).
//
// Each iteration updates the loop time, runs due timers, runs prepare
// handles, polls for I/O (bounded by the next timer), then runs pending close
// callbacks. RunOnce additionally runs timers that became due while polling.
type Loop struct {
	now time.Time

	backend poller

	polls   map[int]*pollHandle
	timers  timerHeap
	handles []Handle
	closing []closer

	prepares       []*prepareHandle
	prepareScratch []*prepareHandle
	asyncs         []*asyncHandle
	asyncScratch   []*asyncHandle

	timerSeq uint64

	wakeMu        sync.RWMutex
	wakePipe      int
	wakePipeWrite int
	wakeBuf       [8]byte
	wakePending   atomic.Bool
	stopFlag      atomic.Bool

	running bool
	closed  bool
}

var _ Engine = (*Loop)(nil)

// New creates a Loop.
func New(cfg Config) (*Loop, error) {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultEventBufferSize
	}

	wakeFd, wakeWriteFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		now:           time.Now(),
		polls:         make(map[int]*pollHandle),
		wakePipe:      wakeFd,
		wakePipeWrite: wakeWriteFd,
	}

	if err := l.backend.init(cfg.EventBufferSize); err != nil {
		l.closeWakeFds()
		return nil, err
	}

	if err := l.backend.register(wakeFd, Readable); err != nil {
		_ = l.backend.close()
		l.closeWakeFds()
		return nil, err
	}

	return l, nil
}

// Now returns the cached loop time, updated at the start of each iteration,
// and whenever a timer is started.
func (l *Loop) Now() time.Time { return l.now }

// Run implements Engine.
func (l *Loop) Run(mode RunMode) (bool, error) {
	if l.closed {
		return false, ErrClosed
	}
	if l.running {
		return false, ErrReentrantRun
	}
	l.running = true
	defer func() { l.running = false }()

	l.updateTime()
	alive := l.alive()

	for alive && !l.stopFlag.Load() {
		l.updateTime()
		l.runTimers()
		l.runPrepares()

		timeout := 0
		if mode != RunNoWait {
			timeout = l.backendTimeout()
		}

		if err := l.backend.wait(timeout, l.dispatch); err != nil {
			l.stopFlag.Store(false)
			return l.alive(), err
		}

		l.runClosing()

		if mode == RunOnce {
			l.updateTime()
			l.runTimers()
		}

		alive = l.alive()
		if mode != RunDefault {
			break
		}
	}

	l.stopFlag.Store(false)
	return alive, nil
}

// Stop implements Engine. Safe for concurrent use.
func (l *Loop) Stop() {
	l.stopFlag.Store(true)
}

// Walk implements Engine.
func (l *Loop) Walk(fn func(Handle)) {
	for _, h := range slices.Clone(l.handles) {
		fn(h)
	}
}

// Close implements Engine.
func (l *Loop) Close() error {
	if l.closed {
		return ErrClosed
	}
	if l.running {
		return ErrReentrantRun
	}
	if len(l.handles) != 0 {
		return ErrBusy
	}
	l.closed = true

	err := l.backend.close()

	l.wakeMu.Lock()
	l.closeWakeFds()
	l.wakeMu.Unlock()

	return err
}

func (l *Loop) closeWakeFds() {
	if l.wakePipe >= 0 {
		_ = unix.Close(l.wakePipe)
	}
	if l.wakePipeWrite >= 0 && l.wakePipeWrite != l.wakePipe {
		_ = unix.Close(l.wakePipeWrite)
	}
	l.wakePipe, l.wakePipeWrite = -1, -1
}

func (l *Loop) updateTime() {
	l.now = time.Now()
}

func (l *Loop) alive() bool {
	if len(l.closing) != 0 {
		return true
	}
	for _, h := range l.handles {
		if h.IsActive() {
			return true
		}
	}
	return false
}

// backendTimeout determines how long to block in poll, in milliseconds.
func (l *Loop) backendTimeout() int {
	if l.stopFlag.Load() || len(l.closing) != 0 || !l.alive() {
		return 0
	}
	if len(l.timers) == 0 {
		return -1
	}
	delay := l.timers[0].due.Sub(l.now)
	if delay <= 0 {
		return 0
	}
	// Round up to avoid waking just before the deadline.
	ms := (delay + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func (l *Loop) runTimers() {
	for len(l.timers) != 0 && !l.timers[0].due.After(l.now) {
		t := heap.Pop(&l.timers).(*timerHandle)
		t.active = false
		if t.repeat > 0 {
			t.schedule(t.repeat)
		}
		t.cb(t)
	}
}

func (l *Loop) runPrepares() {
	l.prepareScratch = append(l.prepareScratch[:0], l.prepares...)
	for i, p := range l.prepareScratch {
		l.prepareScratch[i] = nil
		if p.active {
			p.cb(p)
		}
	}
}

func (l *Loop) runClosing() {
	pending := l.closing
	l.closing = nil
	for _, h := range pending {
		h.finishClose()
	}
}

// dispatch handles one readiness notification from the backend.
func (l *Loop) dispatch(fd int, events Events, failed bool) {
	if fd == l.wakePipe {
		l.drainWakeUpPipe()
		l.runAsyncs()
		return
	}

	p := l.polls[fd]
	if p == nil || !p.active {
		return
	}

	if events&Disconnect != 0 && p.events&Readable != 0 {
		events |= Readable
	}
	events &= p.events | Disconnect

	var err error
	if failed {
		err = socketError(fd)
	}
	if events == 0 && err == nil {
		return
	}

	p.cb(p, events, err)
}

// drainWakeUpPipe drains the wake-up pipe.
func (l *Loop) drainWakeUpPipe() {
	for {
		if _, err := unix.Read(l.wakePipe, l.wakeBuf[:]); err != nil {
			break
		}
	}
	l.wakePending.Store(false)
}

func (l *Loop) runAsyncs() {
	l.asyncScratch = append(l.asyncScratch[:0], l.asyncs...)
	for i, a := range l.asyncScratch {
		l.asyncScratch[i] = nil
		if a.pending.Swap(false) && a.active {
			a.cb(a)
		}
	}
}

// submitWakeup writes to the wake-up pipe, at most once per drain.
func (l *Loop) submitWakeup() error {
	if l.wakePending.Swap(true) {
		return nil
	}

	l.wakeMu.RLock()
	defer l.wakeMu.RUnlock()

	if l.wakePipeWrite < 0 {
		return ErrClosed
	}

	_, err := unix.Write(l.wakePipeWrite, wakeSignal[:])
	if err == unix.EAGAIN {
		// full, a wakeup is already pending
		err = nil
	}
	return err
}

// socketError fetches the pending error for fd, falling back to
// ErrPollCondition for descriptors that are not sockets.
func socketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || v == 0 {
		return ErrPollCondition
	}
	return syscall.Errno(v)
}

func (l *Loop) addHandle(h Handle) {
	l.handles = append(l.handles, h)
}

func (l *Loop) removeHandle(h Handle) {
	if i := slices.Index(l.handles, h); i >= 0 {
		l.handles = slices.Delete(l.handles, i, i+1)
	}
}

func (l *Loop) checkOpen() error {
	if l.closed {
		return ErrClosed
	}
	return nil
}

// NewPoll implements Engine.
func (l *Loop) NewPoll(fd int) (Poll, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if fd < 0 || fd == l.wakePipe {
		return nil, ErrFDOutOfRange
	}
	if _, ok := l.polls[fd]; ok {
		return nil, ErrFDInUse
	}
	p := &pollHandle{fd: fd}
	p.init(l, "poll", p)
	l.polls[fd] = p
	return p, nil
}

// NewTimer implements Engine.
func (l *Loop) NewTimer() (Timer, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	t := &timerHandle{index: -1}
	t.init(l, "timer", t)
	return t, nil
}

// NewPrepare implements Engine.
func (l *Loop) NewPrepare() (Prepare, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	p := &prepareHandle{}
	p.init(l, "prepare", p)
	return p, nil
}

// NewAsync implements Engine.
func (l *Loop) NewAsync(cb func(Async)) (Async, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, errors.New("native: nil async callback")
	}
	a := &asyncHandle{cb: cb}
	a.init(l, "async", a)
	a.active = true
	l.asyncs = append(l.asyncs, a)
	return a, nil
}
