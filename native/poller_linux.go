//go:build linux

package native

import (
	"golang.org/x/sys/unix"
)

// poller is the epoll backend.
type poller struct {
	epfd     int
	eventBuf []unix.EpollEvent
}

func (p *poller) init(bufSize int) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	p.eventBuf = make([]unix.EpollEvent, bufSize)
	return nil
}

func (p *poller) close() error {
	if p.epfd <= 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}

func (p *poller) register(fd int, events Events) error {
	ev := unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *poller) modify(fd int, _ Events, events Events) error {
	ev := unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *poller) unregister(fd int, _ Events) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to timeoutMs (-1 is forever), calling fn for each
// ready descriptor. EINTR is not an error.
func (p *poller) wait(timeoutMs int, fn func(fd int, events Events, failed bool)) error {
	n, err := unix.EpollWait(p.epfd, p.eventBuf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		raw := p.eventBuf[i].Events
		fn(int(p.eventBuf[i].Fd), epollToEvents(raw), raw&unix.EPOLLERR != 0)
	}
	return nil
}

// eventsToEpoll converts Events to epoll event flags.
func eventsToEpoll(events Events) uint32 {
	var epollEvents uint32
	if events&Readable != 0 {
		epollEvents |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&Writable != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to Events.
func epollToEvents(epollEvents uint32) Events {
	var events Events
	if epollEvents&unix.EPOLLIN != 0 {
		events |= Readable
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= Writable
	}
	if epollEvents&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= Disconnect
	}
	return events
}
