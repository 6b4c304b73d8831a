//go:build darwin

package native

import (
	"golang.org/x/sys/unix"
)

// poller is the kqueue backend.
type poller struct {
	kq       int
	eventBuf []unix.Kevent_t
}

func (p *poller) init(bufSize int) error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	p.eventBuf = make([]unix.Kevent_t, bufSize)
	return nil
}

func (p *poller) close() error {
	if p.kq <= 0 {
		return nil
	}
	err := unix.Close(p.kq)
	p.kq = -1
	return err
}

func (p *poller) register(fd int, events Events) error {
	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, kevents, nil, nil)
	return err
}

func (p *poller) modify(fd int, prev Events, events Events) error {
	if del := eventsToKevents(fd, prev&^events, unix.EV_DELETE); len(del) > 0 {
		_, _ = unix.Kevent(p.kq, del, nil, nil)
	}
	if add := eventsToKevents(fd, events&^prev, unix.EV_ADD|unix.EV_ENABLE); len(add) > 0 {
		if _, err := unix.Kevent(p.kq, add, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *poller) unregister(fd int, events Events) error {
	kevents := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, kevents, nil, nil)
	return err
}

func (p *poller) wait(timeoutMs int, fn func(fd int, events Events, failed bool)) error {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		kev := &p.eventBuf[i]
		fn(int(kev.Ident), keventToEvents(kev), kev.Flags&unix.EV_ERROR != 0)
	}
	return nil
}

// eventsToKevents converts Events to kqueue kevent structures.
func eventsToKevents(fd int, events Events, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&Readable != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if events&Writable != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

// keventToEvents converts a kqueue event to Events.
func keventToEvents(kev *unix.Kevent_t) Events {
	var events Events
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= Readable
	case unix.EVFILT_WRITE:
		events |= Writable
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= Disconnect
	}
	return events
}
