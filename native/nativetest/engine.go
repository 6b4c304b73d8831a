// Package nativetest provides an in-memory native.Engine, for deterministic
// tests of code driving an engine.
//
// Readiness is simulated via Engine.Inject, and timers run against a virtual
// clock which jumps forward to the next due timer whenever the engine would
// otherwise block in poll.
package nativetest

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/joeycumines/go-ioloop/native"
)

type (
	// Engine is a fake native.Engine. Only Inject, Advance, Now, Stop,
	// and Async.Send are safe for concurrent use.
	Engine struct {
		now      time.Time
		injected []injection
		kick     chan struct{}

		handles  []*handle
		closing  []*handle
		polls    map[int]*Poll
		timers   []*Timer
		prepares []*Prepare
		asyncs   []*Async

		seq uint64

		mu       sync.Mutex
		stopFlag bool
		running  bool
		closed   bool
	}

	injection struct {
		err    error
		fd     int
		events native.Events
	}

	handle struct {
		engine  *Engine
		self    native.Handle
		closeCb func()
		kind    string
		active  bool
		closing bool
		// leaked handles never finish closing
		leaked bool
	}

	Poll struct {
		handle
		cb     native.PollCallback
		fd     int
		events native.Events
	}

	Timer struct {
		handle
		due     time.Time
		cb      func(native.Timer)
		timeout time.Duration
		repeat  time.Duration
		seq     uint64
	}

	Prepare struct {
		handle
		cb func(native.Prepare)
	}

	Async struct {
		handle
		cb      func(native.Async)
		pending bool
	}
)

var (
	_ native.Engine  = (*Engine)(nil)
	_ native.Poll    = (*Poll)(nil)
	_ native.Timer   = (*Timer)(nil)
	_ native.Prepare = (*Prepare)(nil)
	_ native.Async   = (*Async)(nil)
)

// New returns an Engine whose virtual clock starts at start.
func New(start time.Time) *Engine {
	return &Engine{
		now:   start,
		kick:  make(chan struct{}, 1),
		polls: make(map[int]*Poll),
	}
}

// Now returns the virtual time.
func (e *Engine) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// Advance moves the virtual clock forward.
func (e *Engine) Advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
	e.notify()
}

// Inject queues a readiness notification for fd, delivered during the next
// poll phase, if a started poll handle exists for fd at that time.
func (e *Engine) Inject(fd int, events native.Events, err error) {
	e.mu.Lock()
	e.injected = append(e.injected, injection{fd: fd, events: events, err: err})
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) notify() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Handles returns every handle that has not finished closing, in creation
// order.
func (e *Engine) Handles() []native.Handle {
	out := make([]native.Handle, 0, len(e.handles))
	for _, h := range e.handles {
		out = append(out, h.self)
	}
	return out
}

// Poll returns the poll handle for fd, or nil.
func (e *Engine) Poll(fd int) *Poll {
	return e.polls[fd]
}

// Timers returns the started timers, ordered by due time.
func (e *Engine) Timers() []*Timer {
	out := slices.Clone(e.timers)
	slices.SortStableFunc(out, compareTimers)
	return out
}

// Leak creates a handle that ignores Close, so the engine always reports
// itself as alive.
func (e *Engine) Leak() native.Handle {
	p := &Prepare{}
	e.addHandle(&p.handle, "leak", p)
	p.leaked = true
	p.active = true
	return p
}

func (e *Engine) addHandle(h *handle, kind string, self native.Handle) {
	h.engine = e
	h.kind = kind
	h.self = self
	e.handles = append(e.handles, h)
}

func (e *Engine) checkOpen() error {
	if e.closed {
		return native.ErrClosed
	}
	return nil
}

func (e *Engine) NewPoll(fd int) (native.Poll, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if fd < 0 {
		return nil, native.ErrFDOutOfRange
	}
	if _, ok := e.polls[fd]; ok {
		return nil, native.ErrFDInUse
	}
	p := &Poll{fd: fd}
	e.addHandle(&p.handle, "poll", p)
	e.polls[fd] = p
	return p, nil
}

func (e *Engine) NewTimer() (native.Timer, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	t := &Timer{}
	e.addHandle(&t.handle, "timer", t)
	return t, nil
}

func (e *Engine) NewPrepare() (native.Prepare, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	p := &Prepare{}
	e.addHandle(&p.handle, "prepare", p)
	return p, nil
}

func (e *Engine) NewAsync(cb func(native.Async)) (native.Async, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, errors.New("nativetest: nil async callback")
	}
	a := &Async{cb: cb}
	e.addHandle(&a.handle, "async", a)
	a.active = true
	e.asyncs = append(e.asyncs, a)
	return a, nil
}

func (e *Engine) Run(mode native.RunMode) (bool, error) {
	if e.closed {
		return false, native.ErrClosed
	}
	if e.running {
		return false, native.ErrReentrantRun
	}
	e.running = true
	defer func() { e.running = false }()

	alive := e.alive()
	for alive && !e.stopped() {
		e.runTimers()
		e.runPrepares()
		e.poll(mode != native.RunNoWait)
		e.runClosing()
		if mode == native.RunOnce {
			e.runTimers()
		}
		alive = e.alive()
		if mode != native.RunDefault {
			break
		}
	}

	e.mu.Lock()
	e.stopFlag = false
	e.mu.Unlock()
	return alive, nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopFlag = true
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopFlag
}

func (e *Engine) Walk(fn func(native.Handle)) {
	for _, h := range e.Handles() {
		fn(h)
	}
}

func (e *Engine) Close() error {
	if e.closed {
		return native.ErrClosed
	}
	if len(e.handles) != 0 {
		return native.ErrBusy
	}
	e.closed = true
	return nil
}

func (e *Engine) alive() bool {
	if len(e.closing) != 0 {
		return true
	}
	for _, h := range e.handles {
		if (h.active && !h.closing) || h.leaked {
			return true
		}
	}
	return false
}

func compareTimers(a, b *Timer) int {
	if c := a.due.Compare(b.due); c != 0 {
		return c
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	default:
		return 0
	}
}

func (e *Engine) runTimers() {
	now := e.Now()
	for {
		var next *Timer
		for _, t := range e.timers {
			if !t.due.After(now) && (next == nil || compareTimers(t, next) < 0) {
				next = t
			}
		}
		if next == nil {
			return
		}
		next.unschedule()
		if next.repeat > 0 {
			next.schedule(now, next.repeat)
		}
		next.cb(next)
	}
}

func (e *Engine) runPrepares() {
	for _, p := range slices.Clone(e.prepares) {
		if p.active {
			p.cb(p)
		}
	}
}

// poll delivers injected events and async sends. When block is set and there
// is nothing to deliver, the virtual clock jumps to the next timer, or, if
// there are no timers, it waits for Inject, Advance, Stop, or Send.
func (e *Engine) poll(block bool) {
	for {
		e.mu.Lock()
		injected := e.injected
		e.injected = nil
		var asyncs []*Async
		for _, a := range e.asyncs {
			if a.pending {
				a.pending = false
				asyncs = append(asyncs, a)
			}
		}
		stop := e.stopFlag
		e.mu.Unlock()

		for _, in := range injected {
			if p := e.polls[in.fd]; p != nil && p.active {
				p.cb(p, in.events, in.err)
			}
		}
		for _, a := range asyncs {
			if a.active {
				a.cb(a)
			}
		}

		if !block || stop || len(injected) != 0 || len(asyncs) != 0 || len(e.closing) != 0 {
			return
		}

		if len(e.timers) != 0 {
			next := slices.MinFunc(e.timers, compareTimers)
			e.mu.Lock()
			if next.due.After(e.now) {
				e.now = next.due
			}
			e.mu.Unlock()
			return
		}

		<-e.kick
	}
}

func (e *Engine) runClosing() {
	pending := e.closing
	e.closing = nil
	for _, h := range pending {
		if i := slices.Index(e.handles, h); i >= 0 {
			e.handles = slices.Delete(e.handles, i, i+1)
		}
		if cb := h.closeCb; cb != nil {
			h.closeCb = nil
			cb()
		}
	}
}

func (h *handle) IsActive() bool  { return h.active && !h.closing }
func (h *handle) IsClosing() bool { return h.closing }
func (h *handle) Kind() string    { return h.kind }

func (h *handle) startClose(cb func()) {
	if h.closing || h.leaked {
		return
	}
	h.active = false
	h.closing = true
	h.closeCb = cb
	h.engine.closing = append(h.engine.closing, h)
}

// Fd implements native.Poll.
func (p *Poll) Fd() int { return p.fd }

// Events returns the current interest mask.
func (p *Poll) Events() native.Events { return p.events }

func (p *Poll) Start(events native.Events, cb native.PollCallback) error {
	if p.closing {
		return native.ErrHandleClosing
	}
	p.events = events
	p.cb = cb
	p.active = true
	return nil
}

func (p *Poll) Stop() error {
	p.active = false
	return nil
}

func (p *Poll) Close(cb func()) {
	if p.closing {
		return
	}
	if p.engine.polls[p.fd] == p {
		delete(p.engine.polls, p.fd)
	}
	p.startClose(cb)
}

// Timeout returns the timeout most recently passed to Start.
func (t *Timer) Timeout() time.Duration { return t.timeout }

func (t *Timer) Start(cb func(native.Timer), timeout, repeat time.Duration) error {
	if t.closing {
		return native.ErrHandleClosing
	}
	t.unschedule()
	t.timeout = timeout
	if timeout < 0 {
		timeout = 0
	}
	t.cb = cb
	t.repeat = repeat
	t.schedule(t.engine.Now(), timeout)
	return nil
}

func (t *Timer) schedule(now time.Time, d time.Duration) {
	t.engine.seq++
	t.seq = t.engine.seq
	t.due = now.Add(d)
	t.active = true
	t.engine.timers = append(t.engine.timers, t)
}

func (t *Timer) unschedule() {
	t.active = false
	if i := slices.Index(t.engine.timers, t); i >= 0 {
		t.engine.timers = slices.Delete(t.engine.timers, i, i+1)
	}
}

func (t *Timer) Stop() error {
	t.unschedule()
	return nil
}

func (t *Timer) Due() time.Time { return t.due }

func (t *Timer) Close(cb func()) {
	if t.closing {
		return
	}
	t.unschedule()
	t.startClose(cb)
}

func (p *Prepare) Start(cb func(native.Prepare)) error {
	if p.closing {
		return native.ErrHandleClosing
	}
	p.cb = cb
	if !p.active {
		p.active = true
		p.engine.prepares = append(p.engine.prepares, p)
	}
	return nil
}

func (p *Prepare) Stop() error {
	if p.leaked {
		return nil
	}
	p.active = false
	if i := slices.Index(p.engine.prepares, p); i >= 0 {
		p.engine.prepares = slices.Delete(p.engine.prepares, i, i+1)
	}
	return nil
}

func (p *Prepare) Close(cb func()) {
	if p.closing || p.leaked {
		return
	}
	_ = p.Stop()
	p.startClose(cb)
}

// Send implements native.Async. Safe for concurrent use.
func (a *Async) Send() error {
	a.engine.mu.Lock()
	a.pending = true
	a.engine.mu.Unlock()
	a.engine.notify()
	return nil
}

func (a *Async) Close(cb func()) {
	if a.closing {
		return
	}
	if i := slices.Index(a.engine.asyncs, a); i >= 0 {
		a.engine.asyncs = slices.Delete(a.engine.asyncs, i, i+1)
	}
	a.startClose(cb)
}
