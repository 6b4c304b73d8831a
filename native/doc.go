// Package native defines the poll/timer engine contract used by ioloop, and
// provides a default implementation for Linux (epoll + eventfd) and Darwin
// (kqueue + self-pipe).
//
// The engine follows libuv's loop model: handles (poll, timer, prepare,
// async) are created against a loop, are only touched from the goroutine
// running that loop, and are released via Close, which completes during the
// closing phase of a subsequent iteration.
package native
