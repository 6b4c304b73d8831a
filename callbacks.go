package ioloop

import (
	"sync"

	"github.com/joeycumines/go-ioloop/native"
	"go.uber.org/atomic"
)

// callbackQueue holds callbacks deferred to the next pass of the loop.
type callbackQueue struct {
	// signal is a lock-free LIFO of entries pushed by AddCallbackFromSignal,
	// on the loop goroutine.
	signal atomic.Pointer[signalEntry]

	mu      sync.Mutex
	items   chunkedIngress
	closing bool
}

type signalEntry struct {
	fn   func()
	next *signalEntry
}

// push appends fn, reporting whether the queue was empty.
func (q *callbackQueue) push(fn func()) (wasEmpty bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing {
		return false, ErrClosing
	}
	wasEmpty = q.items.Len() == 0 && q.signal.Load() == nil
	q.items.Push(fn)
	return wasEmpty, nil
}

// pushSignal appends fn without taking the mutex.
func (q *callbackQueue) pushSignal(fn func()) {
	e := &signalEntry{fn: fn}
	for {
		e.next = q.signal.Load()
		if q.signal.CompareAndSwap(e.next, e) {
			return
		}
	}
}

func (q *callbackQueue) pending() bool {
	if q.signal.Load() != nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() != 0
}

// take removes everything currently queued. The signal entries are returned
// in arrival order.
func (q *callbackQueue) take() (batch chunkedIngress, signals []func()) {
	q.mu.Lock()
	batch = q.items
	q.items = chunkedIngress{}
	q.mu.Unlock()

	for e := q.signal.Swap(nil); e != nil; e = e.next {
		signals = append(signals, e.fn)
	}
	for i, j := 0, len(signals)-1; i < j; i, j = i+1, j-1 {
		signals[i], signals[j] = signals[j], signals[i]
	}
	return batch, signals
}

// close rejects further pushes, and discards anything still queued.
func (q *callbackQueue) close() (discarded int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing {
		return 0, ErrClosing
	}
	q.closing = true
	for {
		if _, ok := q.items.Pop(); !ok {
			break
		}
		discarded++
	}
	for e := q.signal.Swap(nil); e != nil; e = e.next {
		discarded++
	}
	return discarded, nil
}

// AddCallback schedules cb to run on the loop goroutine, during the next
// pass. It is safe to call from any goroutine. Callbacks run in the order
// they were added, and a callback added while the queue is being drained
// runs on a later pass.
func (l *Loop) AddCallback(cb func()) error {
	if cb == nil {
		return ErrNilCallback
	}

	wasEmpty, err := l.callbacks.push(cb)
	if err != nil {
		return err
	}

	owner := l.isLoopThread()
	if wasEmpty && owner {
		l.syncPrepare()
	}
	if wasEmpty || !owner {
		l.waker.wake()
	}
	return nil
}

// AddCallbackFromSignal is AddCallback, for use where the loop goroutine may
// be interrupted while holding the queue lock, e.g. from within a signal
// handling callback. On the loop goroutine it does not lock. Elsewhere it is
// equivalent to AddCallback.
func (l *Loop) AddCallbackFromSignal(cb func()) error {
	if cb == nil {
		return ErrNilCallback
	}
	if !l.isLoopThread() {
		return l.AddCallback(cb)
	}
	if l.closed.Load() {
		return ErrClosing
	}
	l.callbacks.pushSignal(cb)
	if !l.prepare.IsActive() {
		if err := l.prepare.Start(l.runCallbacks); err != nil {
			l.logger.Err().Err(err).Log("failed to start prepare hook")
		}
	}
	l.waker.wake()
	return nil
}

// syncPrepare arms the prepare hook if there are callbacks to run. Loop
// goroutine only.
func (l *Loop) syncPrepare() {
	if l.prepare.IsActive() || !l.callbacks.pending() {
		return
	}
	if err := l.prepare.Start(l.runCallbacks); err != nil {
		l.logger.Err().Err(err).Log("failed to start prepare hook")
	}
}

// runCallbacks drains the queue, as it was when called.
func (l *Loop) runCallbacks(native.Prepare) {
	_ = l.prepare.Stop()

	batch, signals := l.callbacks.take()

	for {
		cb, ok := batch.Pop()
		if !ok {
			break
		}
		l.runCallback(cb)
	}

	for _, cb := range signals {
		l.runCallback(cb)
	}
}
