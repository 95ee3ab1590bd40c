//go:build darwin

package poller

import "syscall"

// KqueuePoller is a kqueue-based I/O multiplexer. Unlike epoll, kqueue has
// no single "modify" op that flips one filter's enable bit in place, so
// ModifyWritable issues an EV_ADD/EV_DELETE pair against EVFILT_WRITE.
type KqueuePoller struct {
	kqfd   int
	events []syscall.Kevent_t
}

// NewPoller creates a new Poller (macOS/BSD).
func NewPoller() (Poller, error) {
	kqfd, err := syscall.Kqueue()
	if err != nil {
		return nil, err
	}

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]syscall.Kevent_t, 1024),
	}, nil
}

// Add registers fd for EVFILT_READ, and for EVFILT_WRITE when writable.
func (p *KqueuePoller) Add(fd int, writable bool) error {
	changes := []syscall.Kevent_t{{
		Ident:  uint64(fd),
		Filter: syscall.EVFILT_READ,
		Flags:  syscall.EV_ADD | syscall.EV_ENABLE,
	}}
	if writable {
		changes = append(changes, syscall.Kevent_t{
			Ident:  uint64(fd),
			Filter: syscall.EVFILT_WRITE,
			Flags:  syscall.EV_ADD | syscall.EV_ENABLE,
		})
	}
	_, err := syscall.Kevent(p.kqfd, changes, nil, nil)
	return err
}

// ModifyWritable adds or deletes the EVFILT_WRITE registration for fd.
func (p *KqueuePoller) ModifyWritable(fd int, writable bool) error {
	flags := uint16(syscall.EV_DELETE)
	if writable {
		flags = syscall.EV_ADD | syscall.EV_ENABLE
	}
	ev := syscall.Kevent_t{
		Ident:  uint64(fd),
		Filter: syscall.EVFILT_WRITE,
		Flags:  flags,
	}
	_, err := syscall.Kevent(p.kqfd, []syscall.Kevent_t{ev}, nil, nil)
	if !writable && err == syscall.ENOENT {
		// Already not registered; not an error for us.
		return nil
	}
	return err
}

// Remove deletes both the read and write registrations for fd, ignoring
// ENOENT on whichever filter wasn't actually registered.
func (p *KqueuePoller) Remove(fd int) error {
	changes := []syscall.Kevent_t{
		{Ident: uint64(fd), Filter: syscall.EVFILT_READ, Flags: syscall.EV_DELETE},
		{Ident: uint64(fd), Filter: syscall.EVFILT_WRITE, Flags: syscall.EV_DELETE},
	}
	_, err := syscall.Kevent(p.kqfd, changes, nil, nil)
	if err == syscall.ENOENT {
		return nil
	}
	return err
}

// Wait blocks for ready events and translates kqueue filters into Event
// flags the event loop understands.
func (p *KqueuePoller) Wait(timeoutMillis int) ([]Event, error) {
	var ts *syscall.Timespec
	if timeoutMillis >= 0 {
		ts = &syscall.Timespec{
			Sec:  int64(timeoutMillis / 1000),
			Nsec: int64((timeoutMillis % 1000) * 1000000),
		}
	}

	n, err := syscall.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		var kind EventKind
		switch ev.Filter {
		case syscall.EVFILT_READ:
			kind |= Readable
		case syscall.EVFILT_WRITE:
			kind |= Writable
		}
		if ev.Flags&syscall.EV_EOF != 0 {
			kind |= HangUp
		}
		if ev.Flags&syscall.EV_ERROR != 0 {
			kind |= ErrorEvent
		}
		out = append(out, Event{FD: int(ev.Ident), Kind: kind})
	}

	return out, nil
}

// Close closes the underlying kqueue fd.
func (p *KqueuePoller) Close() error {
	return syscall.Close(p.kqfd)
}

// SetNonblock puts fd into non-blocking mode.
func SetNonblock(fd int) error {
	return syscall.SetNonblock(fd, true)
}
