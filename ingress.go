package ioloop

import (
	"sync"
)

// chunkSize is the number of callbacks per node in the chunkedIngress list.
const chunkSize = 128

// chunkedIngress is a chunked linked-list FIFO of callbacks.
//
// It is NOT thread-safe, the caller must provide external synchronization.
type chunkedIngress struct {
	head   *chunk
	tail   *chunk
	length int
}

// chunkPool prevents GC thrashing under high load.
var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunk is a fixed-size node, using readPos/pos cursors for O(1) push/pop.
type chunk struct {
	tasks   [chunkSize]func()
	next    *chunk
	readPos int
	pos     int
}

func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk returns an exhausted chunk to the pool, clearing any retained
// closures.
func returnChunk(c *chunk) {
	clear(c.tasks[:c.pos])
	c.pos = 0
	c.readPos = 0
	c.next = nil
	chunkPool.Put(c)
}

// Push adds a callback to the tail.
func (q *chunkedIngress) Push(task func()) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}

	if q.tail.pos == len(q.tail.tasks) {
		newTail := newChunk()
		q.tail.next = newTail
		q.tail = newTail
	}

	q.tail.tasks[q.tail.pos] = task
	q.tail.pos++
	q.length++
}

// Pop removes and returns the head callback, or false if empty. Chunks are
// returned to the pool as they are exhausted.
func (q *chunkedIngress) Pop() (func(), bool) {
	if q.head == nil || q.head.readPos >= q.head.pos {
		return nil, false
	}

	task := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = nil
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos {
		oldHead := q.head
		q.head = oldHead.next
		if q.head == nil {
			q.tail = nil
		}
		returnChunk(oldHead)
	}

	return task, true
}

// Len returns the queue length.
func (q *chunkedIngress) Len() int {
	return q.length
}
