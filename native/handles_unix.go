//go:build linux || darwin

package native

import (
	"container/heap"
	"time"

	"go.uber.org/atomic"
)

type closer interface {
	finishClose()
}

// handle is the state shared by all handle types.
type handle struct {
	loop    *Loop
	self    Handle
	closeCb func()
	kind    string
	active  bool
	closing bool
}

func (h *handle) init(l *Loop, kind string, self Handle) {
	h.loop = l
	h.kind = kind
	h.self = self
	l.addHandle(self)
}

func (h *handle) IsActive() bool  { return h.active && !h.closing }
func (h *handle) IsClosing() bool { return h.closing }
func (h *handle) Kind() string    { return h.kind }

// startClose queues the handle for the closing phase, returning false if it
// was already closing.
func (h *handle) startClose(cb func()) bool {
	if h.closing {
		return false
	}
	h.closing = true
	h.closeCb = cb
	h.loop.closing = append(h.loop.closing, h)
	return true
}

func (h *handle) finishClose() {
	h.loop.removeHandle(h.self)
	cb := h.closeCb
	h.closeCb = nil
	if cb != nil {
		cb()
	}
}

type pollHandle struct {
	handle
	cb     PollCallback
	fd     int
	events Events
}

func (p *pollHandle) Fd() int { return p.fd }

func (p *pollHandle) Start(events Events, cb PollCallback) error {
	if p.closing {
		return ErrHandleClosing
	}
	var err error
	if p.active {
		err = p.loop.backend.modify(p.fd, p.events, events)
	} else {
		err = p.loop.backend.register(p.fd, events)
	}
	if err != nil {
		return err
	}
	p.events = events
	p.cb = cb
	p.active = true
	return nil
}

func (p *pollHandle) Stop() error {
	if !p.active {
		return nil
	}
	p.active = false
	return p.loop.backend.unregister(p.fd, p.events)
}

func (p *pollHandle) Close(cb func()) {
	if p.closing {
		return
	}
	// the descriptor may already be closed by its owner
	_ = p.Stop()
	if p.loop.polls[p.fd] == p {
		delete(p.loop.polls, p.fd)
	}
	p.startClose(cb)
}

type timerHandle struct {
	handle
	due    time.Time
	cb     func(Timer)
	seq    uint64
	repeat time.Duration
	index  int
}

func (t *timerHandle) Start(cb func(Timer), timeout, repeat time.Duration) error {
	if t.closing {
		return ErrHandleClosing
	}
	_ = t.Stop()
	if timeout < 0 {
		timeout = 0
	}
	t.cb = cb
	t.repeat = repeat
	// relative to the time of the call, not the start of the iteration
	t.loop.updateTime()
	t.schedule(timeout)
	return nil
}

func (t *timerHandle) schedule(timeout time.Duration) {
	t.loop.timerSeq++
	t.seq = t.loop.timerSeq
	t.due = t.loop.now.Add(timeout)
	t.active = true
	heap.Push(&t.loop.timers, t)
}

func (t *timerHandle) Stop() error {
	if !t.active {
		return nil
	}
	t.active = false
	if t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
	}
	return nil
}

func (t *timerHandle) Due() time.Time { return t.due }

func (t *timerHandle) Close(cb func()) {
	if t.closing {
		return
	}
	_ = t.Stop()
	t.startClose(cb)
}

type prepareHandle struct {
	handle
	cb func(Prepare)
}

func (p *prepareHandle) Start(cb func(Prepare)) error {
	if p.closing {
		return ErrHandleClosing
	}
	p.cb = cb
	if !p.active {
		p.active = true
		p.loop.prepares = append(p.loop.prepares, p)
	}
	return nil
}

func (p *prepareHandle) Stop() error {
	if !p.active {
		return nil
	}
	p.active = false
	for i, v := range p.loop.prepares {
		if v == p {
			p.loop.prepares = append(p.loop.prepares[:i], p.loop.prepares[i+1:]...)
			break
		}
	}
	return nil
}

func (p *prepareHandle) Close(cb func()) {
	if p.closing {
		return
	}
	_ = p.Stop()
	p.startClose(cb)
}

type asyncHandle struct {
	handle
	cb      func(Async)
	pending atomic.Bool
}

// Send implements Async. Safe for concurrent use.
func (a *asyncHandle) Send() error {
	if a.pending.Swap(true) {
		return nil
	}
	return a.loop.submitWakeup()
}

func (a *asyncHandle) Close(cb func()) {
	if a.closing {
		return
	}
	a.active = false
	for i, v := range a.loop.asyncs {
		if v == a {
			a.loop.asyncs = append(a.loop.asyncs[:i], a.loop.asyncs[i+1:]...)
			break
		}
	}
	a.startClose(cb)
}

// timerHeap orders timers by due time, then start order.
type timerHeap []*timerHandle

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timerHandle)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
