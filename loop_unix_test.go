//go:build linux || darwin

package ioloop

import (
	"testing"
	"time"

	"github.com/joeycumines/go-ioloop/logging"
	"github.com/joeycumines/go-ioloop/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func newRealLoop(t *testing.T, opts ...Option) *Loop {
	t.Helper()
	l, err := New(append([]Option{
		WithSignalWakeup(nil),
		WithLogger(logging.Discard()),
	}, opts...)...)
	require.NoError(t, err)
	return l
}

func TestLoop_RealPipe(t *testing.T) {
	l := newRealLoop(t)
	r, w := newPipe(t)
	defer unix.Close(r)
	defer unix.Close(w)

	var got []byte
	require.NoError(t, l.AddHandler(r, Readable, func(fd int, events Events) error {
		assert.Equal(t, Readable, events)
		buf := make([]byte, 16)
		n, err := unix.Read(fd, buf)
		if err != nil {
			return err
		}
		got = append(got, buf[:n]...)
		l.Stop()
		return nil
	}))

	_, err := unix.Write(w, []byte("ping"))
	require.NoError(t, err)

	require.NoError(t, l.Start())
	assert.Equal(t, "ping", string(got))

	require.NoError(t, l.Close())
}

func TestLoop_RealWakeLatency(t *testing.T) {
	l := newRealLoop(t)
	done := startLoop(t, l)

	// give the loop a moment to block in poll
	time.Sleep(10 * time.Millisecond)

	ran := make(chan time.Time, 1)
	submitted := time.Now()
	require.NoError(t, l.AddCallback(func() {
		ran <- time.Now()
		l.Stop()
	}))

	select {
	case at := <-ran:
		assert.Less(t, at.Sub(submitted), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}
	require.NoError(t, waitDone(t, done))
	require.NoError(t, l.Close())
}

func TestLoop_RealTimeout(t *testing.T) {
	l := newRealLoop(t)

	start := time.Now()
	var fired time.Time
	_, err := l.CallLater(20*time.Millisecond, func() {
		fired = time.Now()
		l.Stop()
	})
	require.NoError(t, err)

	require.NoError(t, l.Start())
	assert.GreaterOrEqual(t, fired.Sub(start), 15*time.Millisecond)
	require.NoError(t, l.Close())
}

func TestLoop_RealConcurrentSubmission(t *testing.T) {
	const (
		producers   = 16
		perProducer = 1000
		total       = producers * perProducer
	)

	l := newRealLoop(t, WithLockOSThread(true))
	seen := make([]int, total)
	var count int
	done := startLoop(t, l)

	var g errgroup.Group
	for p := range producers {
		g.Go(func() error {
			for i := range perProducer {
				id := p*perProducer + i
				if err := l.AddCallback(func() {
					seen[id]++
					count++
					if count == total {
						l.Stop()
					}
				}); err != nil {
					return err
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

func TestLoop_CloseAll(t *testing.T) {
	l, engine := newTestLoop(t)
	r, w := newPipe(t)

	require.NoError(t, l.AddHandler(r, Readable, func(int, Events) error { return nil }))
	require.NoError(t, l.AddHandler(w, Writable, func(int, Events) error { return nil }))

	require.NoError(t, l.CloseAll())
	assert.Empty(t, engine.Handles())
	assert.ErrorIs(t, unix.Close(r), unix.EBADF)
	assert.ErrorIs(t, unix.Close(w), unix.EBADF)
}

func TestLoop_CloseKeepsFDs(t *testing.T) {
	l, _ := newTestLoop(t)
	r, w := newPipe(t)

	require.NoError(t, l.AddHandler(r, Readable, func(int, Events) error { return nil }))
	require.NoError(t, l.Close())
	assert.NoError(t, unix.Close(r))
	assert.NoError(t, unix.Close(w))
}

type recordingWakeup struct {
	calls []int
	fd    int
}

func (x *recordingWakeup) SetWakeupFD(fd int) int {
	x.calls = append(x.calls, fd)
	prev := x.fd
	x.fd = fd
	return prev
}

func TestLoop_SignalWakeupInstalled(t *testing.T) {
	hook := &recordingWakeup{fd: -1}
	l, engine := newTestLoop(t, WithSignalWakeup(hook))
	require.NotNil(t, engine.Poll(l.signalPipe))

	var active bool
	require.NoError(t, l.AddCallback(func() {
		active = engine.Poll(l.signalPipe).IsActive()
		l.Stop()
	}))
	require.NoError(t, l.Start())

	assert.True(t, active)
	assert.Equal(t, []int{l.signalPipeW, -1}, hook.calls)
	assert.Equal(t, -1, hook.fd)
	assert.False(t, engine.Poll(l.signalPipe).IsActive())

	require.NoError(t, l.Close())
	assert.Empty(t, engine.Handles())
	assert.Equal(t, -1, l.signalPipe)
}

func TestLoop_SignalWakeupAlreadyRegistered(t *testing.T) {
	hook := &recordingWakeup{fd: 42}
	l, engine := newTestLoop(t, WithSignalWakeup(hook))

	var active bool
	require.NoError(t, l.AddCallback(func() {
		active = engine.Poll(l.signalPipe).IsActive()
		l.Stop()
	}))
	require.NoError(t, l.Start())

	assert.False(t, active)
	assert.Equal(t, []int{l.signalPipeW, 42}, hook.calls)
	assert.Equal(t, 42, hook.fd)

	require.NoError(t, l.Close())
}

func TestLoop_SignalCheckerDrains(t *testing.T) {
	hook := &recordingWakeup{fd: -1}
	l, engine := newTestLoop(t, WithSignalWakeup(hook))

	_, err := unix.Write(l.signalPipeW, []byte{10, 12})
	require.NoError(t, err)

	engine.Inject(l.signalPipe, native.Readable, nil)
	require.NoError(t, l.AddCallback(func() {
		// runs before the poll phase delivering the injected event
		require.NoError(t, l.AddCallback(l.Stop))
	}))
	require.NoError(t, l.Start())

	_, err = unix.Read(l.signalPipe, make([]byte, 8))
	assert.ErrorIs(t, err, unix.EAGAIN)

	require.NoError(t, l.Close())
}
