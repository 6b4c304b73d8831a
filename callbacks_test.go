package ioloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCallback_FIFO(t *testing.T) {
	l, _ := newTestLoop(t)

	var order []string
	add := func(name string, fn func()) {
		require.NoError(t, l.AddCallback(func() {
			order = append(order, name)
			if fn != nil {
				fn()
			}
		}))
	}

	add("a", func() {
		add("d", l.Stop)
	})
	add("b", nil)
	add("c", l.Stop)

	// d must not run during the pass that ran a
	require.NoError(t, l.Start())
	assert.Equal(t, []string{"a", "b", "c"}, order)

	require.NoError(t, l.Start())
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)

	require.NoError(t, l.Close())
}

func TestAddCallback_Nil(t *testing.T) {
	l, _ := newTestLoop(t)
	assert.ErrorIs(t, l.AddCallback(nil), ErrNilCallback)
	assert.ErrorIs(t, l.AddCallbackFromSignal(nil), ErrNilCallback)
	require.NoError(t, l.Close())
}

func TestAddCallback_PanicIsolated(t *testing.T) {
	var reported []error
	l, _ := newTestLoop(t, WithErrorHandler(func(err error) { reported = append(reported, err) }))

	var ran bool
	require.NoError(t, l.AddCallback(func() { panic("first") }))
	require.NoError(t, l.AddCallback(func() {
		ran = true
		l.Stop()
	}))
	require.NoError(t, l.Start())

	assert.True(t, ran)
	require.Len(t, reported, 1)
	var pe *PanicError
	require.ErrorAs(t, reported[0], &pe)
	assert.Equal(t, "first", pe.Value)

	require.NoError(t, l.Close())
}

func TestAddCallbackFromSignal_OnLoop(t *testing.T) {
	l, _ := newTestLoop(t)

	var order []int
	require.NoError(t, l.AddCallback(func() {
		order = append(order, 0)
		for i := 1; i <= 3; i++ {
			require.NoError(t, l.AddCallbackFromSignal(func() {
				order = append(order, i)
			}))
		}
		require.NoError(t, l.AddCallback(func() {
			order = append(order, 4)
			l.Stop()
		}))
	}))
	require.NoError(t, l.Start())

	// mutex entries run before signal entries, within a pass
	assert.Equal(t, []int{0, 4, 1, 2, 3}, order)
	require.NoError(t, l.Close())
}

func TestAddCallbackFromSignal_OffLoop(t *testing.T) {
	l, _ := newTestLoop(t)

	var ran bool
	require.NoError(t, l.AddCallbackFromSignal(func() {
		ran = true
		l.Stop()
	}))
	require.NoError(t, l.Start())
	assert.True(t, ran)
	require.NoError(t, l.Close())
}

func TestCallbackQueue_Close(t *testing.T) {
	var q callbackQueue

	wasEmpty, err := q.push(func() {})
	require.NoError(t, err)
	assert.True(t, wasEmpty)
	wasEmpty, err = q.push(func() {})
	require.NoError(t, err)
	assert.False(t, wasEmpty)
	q.pushSignal(func() {})
	assert.True(t, q.pending())

	n, err := q.close()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, q.pending())

	_, err = q.push(func() {})
	assert.ErrorIs(t, err, ErrClosing)
	_, err = q.close()
	assert.ErrorIs(t, err, ErrClosing)
}

func TestCallbackQueue_Take(t *testing.T) {
	var q callbackQueue
	var order []int
	for i := range 300 {
		_, err := q.push(func() { order = append(order, i) })
		require.NoError(t, err)
	}
	for i := 300; i < 303; i++ {
		q.pushSignal(func() { order = append(order, i) })
	}

	batch, signals := q.take()
	assert.False(t, q.pending())
	assert.Equal(t, 300, batch.Len())
	for {
		fn, ok := batch.Pop()
		if !ok {
			break
		}
		fn()
	}
	for _, fn := range signals {
		fn()
	}

	require.Len(t, order, 303)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}
