//go:build darwin

package selector

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/open-coroutine-go/selector/internal"
)

// kqueueSelector is grounded on the teacher's poller_darwin.go FastPoller:
// one kqueue fd, EV_ADD/EV_DELETE changes submitted via Kevent, events
// delivered into a preallocated Kevent_t buffer.
type kqueueSelector struct {
	kq  int
	reg *internal.Registry
	mu  sync.Mutex
	buf [256]unix.Kevent_t
}

func newPlatformSelector() (Selector, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueueSelector{kq: kq, reg: internal.NewRegistry()}, nil
}

func (s *kqueueSelector) RegisterRead(fd int) (uint64, error)  { return s.register(fd, false) }
func (s *kqueueSelector) RegisterWrite(fd int) (uint64, error) { return s.register(fd, true) }

func (s *kqueueSelector) register(fd int, write bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter := int16(unix.EVFILT_READ)
	if write {
		filter = unix.EVFILT_WRITE
	}
	kev := unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: unix.EV_ADD | unix.EV_ENABLE}
	if _, err := unix.Kevent(s.kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		return 0, err
	}
	return s.reg.Add(fd, write), nil
}

func (s *kqueueSelector) Deregister(token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, _, ok := s.reg.Remove(token)
	if !ok {
		return ErrNotRegistered
	}
	filter := int16(unix.EVFILT_READ)
	if it.Write {
		filter = unix.EVFILT_WRITE
	}
	kev := unix.Kevent_t{Ident: uint64(it.FD), Filter: filter, Flags: unix.EV_DELETE}
	_, err := unix.Kevent(s.kq, []unix.Kevent_t{kev}, nil, nil)
	return err
}

func (s *kqueueSelector) Poll(timeoutMs int, dst []Event) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(1e6))
		ts = &t
	}
	n, err := unix.Kevent(s.kq, nil, s.buf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		kev := s.buf[i]
		dst = append(dst, Event{
			FD:       int(kev.Ident),
			Readable: kev.Filter == unix.EVFILT_READ,
			Writable: kev.Filter == unix.EVFILT_WRITE,
			Error:    kev.Flags&unix.EV_ERROR != 0,
			Hangup:   kev.Flags&unix.EV_EOF != 0,
		})
	}
	return dst, nil
}

func (s *kqueueSelector) Close() error { return unix.Close(s.kq) }
