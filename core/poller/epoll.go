//go:build linux

package poller

import "golang.org/x/sys/unix"

// EpollPoller is an epoll-based I/O multiplexer built on x/sys/unix rather
// than the standard syscall package, matching how the rest of this module
// reaches for x/sys for any raw syscall that isn't already wrapped by net.
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates a new Poller (Linux).
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func epollEvents(writable bool) uint32 {
	// EPOLLRDHUP detects a peer-initiated half-close; Wait reports it as
	// HangUp, so the event loop closes the connection as soon as the
	// peer's FIN arrives instead of waiting for a read to return 0.
	ev := uint32(unix.EPOLLIN) | uint32(unix.EPOLLRDHUP)
	if writable {
		ev |= uint32(unix.EPOLLOUT)
	}
	return ev
}

// Add registers fd, level-triggered, for read readiness and optionally
// write readiness.
func (p *EpollPoller) Add(fd int, writable bool) error {
	ev := unix.EpollEvent{Events: epollEvents(writable), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// ModifyWritable re-arms fd with or without EPOLLOUT.
func (p *EpollPoller) ModifyWritable(fd int, writable bool) error {
	ev := unix.EpollEvent{Events: epollEvents(writable), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove unregisters fd.
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for ready events and translates epoll's bitmask into Event
// flags the event loop understands.
func (p *EpollPoller) Wait(timeoutMillis int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		raw := p.events[i].Events
		var kind EventKind
		if raw&uint32(unix.EPOLLIN) != 0 {
			kind |= Readable
		}
		if raw&uint32(unix.EPOLLOUT) != 0 {
			kind |= Writable
		}
		if raw&uint32(unix.EPOLLRDHUP) != 0 || raw&uint32(unix.EPOLLHUP) != 0 {
			kind |= HangUp
		}
		if raw&uint32(unix.EPOLLERR) != 0 {
			kind |= ErrorEvent
		}
		out = append(out, Event{FD: int(p.events[i].Fd), Kind: kind})
	}

	return out, nil
}

// Close closes the underlying epoll fd.
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}

// SetNonblock puts fd into non-blocking mode.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
