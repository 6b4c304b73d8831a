package ioloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/joeycumines/go-ioloop/logging"
	"github.com/joeycumines/go-ioloop/native"
	"github.com/joeycumines/go-ioloop/native/nativetest"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestLoop(t *testing.T, opts ...Option) (*Loop, *nativetest.Engine) {
	t.Helper()
	engine := nativetest.New(time.Unix(1000, 0))
	l, err := New(append([]Option{
		WithEngine(engine),
		WithClock(engine.Now),
		WithSignalWakeup(nil),
		WithLogger(logging.Discard()),
	}, opts...)...)
	require.NoError(t, err)
	return l, engine
}

// startLoop runs l on a new goroutine, returning a channel receiving the
// result of Start.
func startLoop(t *testing.T, l *Loop) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Start() }()
	require.Eventually(t, l.IsRunning, time.Second, time.Millisecond)
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the loop to stop")
		return nil
	}
}

func TestLoop_ReadableEvent(t *testing.T) {
	l, engine := newTestLoop(t)

	type call struct {
		fd     int
		events Events
	}
	var calls []call
	require.NoError(t, l.AddHandler(5, Readable, func(fd int, events Events) error {
		calls = append(calls, call{fd, events})
		l.Stop()
		return nil
	}))
	assert.Equal(t, native.Readable, engine.Poll(5).Events())

	engine.Inject(5, native.Readable, nil)
	require.NoError(t, l.Start())

	assert.Equal(t, []call{{5, Readable}}, calls)
	require.NoError(t, l.Close())
}

func TestLoop_EventTranslation(t *testing.T) {
	for _, tc := range [...]struct {
		name     string
		interest Events
		events   native.Events
		err      error
		want     Events
	}{
		{"readable", ReadWrite, native.Readable, nil, Readable},
		{"writable", ReadWrite, native.Writable, nil, Writable},
		{"both", ReadWrite, native.Readable | native.Writable, nil, ReadWrite},
		{"disconnect", ReadWrite, native.Disconnect, nil, Readable},
		{"disconnect read interest", Readable, native.Disconnect | native.Writable, nil, Readable},
		{"disconnect write interest", Writable, native.Disconnect, nil, Writable},
		{"error", ReadWrite, native.Readable, errors.New("connection reset"), ReadWrite},
		{"error write interest", Writable, 0, native.ErrPollCondition, ReadWrite},
		{"error without events", ReadWrite, 0, native.ErrPollCondition, ReadWrite},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, engine := newTestLoop(t)
			var got Events
			require.NoError(t, l.AddHandler(3, tc.interest, func(_ int, events Events) error {
				got = events
				l.Stop()
				return nil
			}))
			engine.Inject(3, tc.events, tc.err)
			require.NoError(t, l.Start())
			assert.Equal(t, tc.want, got)
			require.NoError(t, l.Close())
		})
	}
}

func TestLoop_HandlerErrors(t *testing.T) {
	var buf bytes.Buffer
	var reported []error
	l, engine := newTestLoop(t,
		WithLogger(logging.NewJSON(&buf, logiface.LevelError)),
		WithErrorHandler(func(err error) { reported = append(reported, err) }),
	)

	boom := errors.New("boom")
	var order []int
	handler := func(fd int, _ Events) error {
		order = append(order, fd)
		switch fd {
		case 1:
			return syscall.EPIPE
		case 2:
			return fmt.Errorf("write: %w", syscall.EPIPE)
		case 3:
			return boom
		case 4:
			panic("handler panic")
		}
		l.Stop()
		return nil
	}
	for fd := 1; fd <= 5; fd++ {
		require.NoError(t, l.AddHandler(fd, Readable, handler))
		engine.Inject(fd, native.Readable, nil)
	}

	require.NoError(t, l.Start())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)

	require.Len(t, reported, 2)
	assert.ErrorIs(t, reported[0], boom)
	assert.Contains(t, reported[0].Error(), "fd 3")
	var pe *PanicError
	require.ErrorAs(t, reported[1], &pe)
	assert.Equal(t, "handler panic", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	var logged []float64
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		assert.Contains(t, m, "err")
		logged = append(logged, m["fd"].(float64))
	}
	assert.Equal(t, []float64{3, 4}, logged)
	assert.Contains(t, buf.String(), "exception in I/O handler")

	require.NoError(t, l.Close())
}

func TestLoop_StaleEventAfterRemove(t *testing.T) {
	l, engine := newTestLoop(t)

	var calls int
	require.NoError(t, l.AddHandler(1, Readable, func(int, Events) error {
		l.RemoveHandler(2)
		return nil
	}))
	require.NoError(t, l.AddHandler(2, Readable, func(int, Events) error {
		calls++
		return nil
	}))
	engine.Inject(1, native.Readable, nil)
	engine.Inject(2, native.Readable, nil)
	require.NoError(t, l.AddCallback(func() {
		// queued before the poll phase, the stop applies after it
		l.Stop()
	}))

	require.NoError(t, l.Start())
	assert.Zero(t, calls)
	require.NoError(t, l.Close())
}

func TestLoop_StopBeforeStart(t *testing.T) {
	l, _ := newTestLoop(t)

	l.Stop()
	l.Stop()
	immediate := make(chan error, 1)
	go func() { immediate <- l.Start() }()
	require.NoError(t, waitDone(t, immediate))
	assert.False(t, l.IsRunning())

	// the stop was consumed
	done := startLoop(t, l)
	l.Stop()
	require.NoError(t, waitDone(t, done))

	require.NoError(t, l.Close())
}

func TestLoop_StopRacingStart(t *testing.T) {
	l, _ := newTestLoop(t)

	iterations := 5000
	if testing.Short() {
		iterations = 500
	}
	for i := range iterations {
		var (
			ready = make(chan struct{})
			done  = make(chan error, 1)
		)
		go func() {
			<-ready
			done <- l.Start()
		}()
		go func() {
			<-ready
			l.Stop()
		}()
		close(ready)

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: Start did not return after a concurrent Stop (running=%v stopped=%v)",
				i, l.running.Load(), l.stopped.Load())
		}
		// Start only returns by consuming the stop
		require.False(t, l.stopped.Load(), "iteration %d", i)
		require.False(t, l.IsRunning(), "iteration %d", i)
	}

	require.NoError(t, l.Close())
}

func TestLoop_StopNotLostAfterRun(t *testing.T) {
	l, _ := newTestLoop(t)

	for range 100 {
		require.NoError(t, l.AddCallback(l.Stop))
		require.NoError(t, l.Start())
		// each stop was consumed by the run it ended
		assert.False(t, l.stopped.Load())

		done := startLoop(t, l)
		l.Stop()
		require.NoError(t, waitDone(t, done))
	}

	require.NoError(t, l.Close())
}

func TestLoop_AlreadyRunning(t *testing.T) {
	l, _ := newTestLoop(t)

	var inner error
	require.NoError(t, l.AddCallback(func() {
		inner = l.Start()
	}))
	done := startLoop(t, l)

	assert.ErrorIs(t, l.Start(), ErrAlreadyRunning)
	assert.ErrorIs(t, l.Close(), ErrRunning)

	l.Stop()
	require.NoError(t, waitDone(t, done))
	assert.ErrorIs(t, inner, ErrAlreadyRunning)

	require.NoError(t, l.Close())
}

func TestLoop_Restartable(t *testing.T) {
	l, _ := newTestLoop(t)

	var runs int
	for range 3 {
		require.NoError(t, l.AddCallback(func() {
			runs++
			l.Stop()
		}))
		require.NoError(t, l.Start())
	}
	assert.Equal(t, 3, runs)
	require.NoError(t, l.Close())
}

func TestLoop_RunContext(t *testing.T) {
	l, _ := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, l.IsRunning, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, waitDone(t, done), context.Canceled)
	assert.False(t, l.IsRunning())

	require.NoError(t, l.Close())
}

func TestLoop_Close(t *testing.T) {
	l, engine := newTestLoop(t)

	var invoked bool
	require.NoError(t, l.AddHandler(4, Readable, func(int, Events) error {
		invoked = true
		return nil
	}))
	_, err := l.AddTimeout(time.Minute, func() { invoked = true })
	require.NoError(t, err)
	require.NoError(t, l.AddCallback(func() { invoked = true }))
	require.NotEmpty(t, engine.Handles())

	require.NoError(t, l.Close())
	assert.False(t, invoked)
	assert.Empty(t, engine.Handles())
	assert.Zero(t, l.NumHandlers())
	assert.Zero(t, l.NumTimeouts())

	assert.ErrorIs(t, l.Close(), ErrClosing)
	assert.ErrorIs(t, l.Start(), ErrClosing)
	assert.ErrorIs(t, l.AddHandler(5, Readable, func(int, Events) error { return nil }), ErrClosing)
	assert.ErrorIs(t, l.UpdateHandler(4, Readable), ErrClosing)
	assert.ErrorIs(t, l.AddCallback(func() {}), ErrClosing)
	assert.ErrorIs(t, l.AddCallbackFromSignal(func() {}), ErrClosing)
	_, err = l.AddTimeout(time.Second, func() {})
	assert.ErrorIs(t, err, ErrClosing)

	// no-ops
	l.RemoveHandler(4)
	l.Stop()
}

func TestLoop_CloseAfterRun(t *testing.T) {
	l, engine := newTestLoop(t)

	require.NoError(t, l.AddHandler(7, Writable, func(int, Events) error { return nil }))
	require.NoError(t, l.AddCallback(l.Stop))
	require.NoError(t, l.Start())

	require.NoError(t, l.Close())
	assert.Empty(t, engine.Handles())
}

func TestLoop_CloseResourceLeak(t *testing.T) {
	l, engine := newTestLoop(t)
	engine.Leak()

	defer func() {
		r := recover()
		require.NotNil(t, r)
		leak, ok := r.(*ResourceLeakError)
		require.True(t, ok, "%T", r)
		assert.Equal(t, []string{"leak"}, leak.Handles)
		assert.Contains(t, leak.Error(), "leak")
	}()
	_ = l.Close()
	t.Fatal("expected a panic")
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(WithEngine(nil))
	assert.Error(t, err)
	_, err = New(WithClock(nil))
	assert.Error(t, err)
	_, err = New(WithEventBufferSize(-1))
	assert.Error(t, err)
}

func TestNew_EngineFailure(t *testing.T) {
	engine := nativetest.New(time.Unix(0, 0))
	require.NoError(t, engine.Close())
	_, err := New(WithEngine(engine), WithLogger(logging.Discard()))
	assert.ErrorIs(t, err, native.ErrClosed)
}

func TestLoop_ConcurrentSubmission(t *testing.T) {
	const (
		producers   = 8
		perProducer = 500
		total       = producers * perProducer
	)

	l, _ := newTestLoop(t)

	seen := make([]int, total)
	var count int
	done := startLoop(t, l)

	var g errgroup.Group
	for p := range producers {
		g.Go(func() error {
			for i := range perProducer {
				id := p*perProducer + i
				err := l.AddCallback(func() {
					seen[id]++
					count++
					if count == total {
						l.Stop()
					}
				})
				if err != nil {
					return err
				}
				if i%50 == 0 {
					time.Sleep(time.Duration(id%7) * time.Microsecond)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, waitDone(t, done))

	assert.Equal(t, total, count)
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("callback %d ran %d times", id, n)
		}
	}
	require.NoError(t, l.Close())
}
