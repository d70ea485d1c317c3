//go:build linux

package selector

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/open-coroutine-go/selector/internal"
)

// epollSelector is grounded on the teacher's poller_linux.go FastPoller:
// one epoll fd, EPOLL_CTL_ADD/MOD/DEL against the OS, events delivered
// into a preallocated buffer and translated back to Event values.
type epollSelector struct {
	epfd int
	reg  *internal.Registry
	mu   sync.Mutex // serializes EpollCtl calls for a given fd
	buf  [256]unix.EpollEvent
}

func newPlatformSelector() (Selector, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollSelector{epfd: fd, reg: internal.NewRegistry()}, nil
}

func (s *epollSelector) RegisterRead(fd int) (uint64, error)  { return s.register(fd, false) }
func (s *epollSelector) RegisterWrite(fd int) (uint64, error) { return s.register(fd, true) }

func (s *epollSelector) register(fd int, write bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	read, wr := s.reg.Tokens(fd)
	op := unix.EPOLL_CTL_ADD
	if read != 0 || wr != 0 {
		op = unix.EPOLL_CTL_MOD
	}

	var want uint32
	if write || wr != 0 {
		want |= unix.EPOLLOUT
	}
	if !write || read != 0 {
		want |= unix.EPOLLIN
	}

	ev := &unix.EpollEvent{Events: want, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, op, fd, ev); err != nil {
		return 0, err
	}
	return s.reg.Add(fd, write), nil
}

func (s *epollSelector) Deregister(token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, stillArmed, ok := s.reg.Remove(token)
	if !ok {
		return ErrNotRegistered
	}
	if !stillArmed {
		return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, it.FD, nil)
	}
	read, write := s.reg.Tokens(it.FD)
	var want uint32
	if read != 0 {
		want |= unix.EPOLLIN
	}
	if write != 0 {
		want |= unix.EPOLLOUT
	}
	ev := &unix.EpollEvent{Events: want, Fd: int32(it.FD)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, it.FD, ev)
}

func (s *epollSelector) Poll(timeoutMs int, dst []Event) ([]Event, error) {
	n, err := unix.EpollWait(s.epfd, s.buf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		ev := s.buf[i]
		dst = append(dst, Event{
			FD:       int(ev.Fd),
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Error:    ev.Events&unix.EPOLLERR != 0,
			Hangup:   ev.Events&unix.EPOLLHUP != 0,
		})
	}
	return dst, nil
}

func (s *epollSelector) Close() error { return unix.Close(s.epfd) }
