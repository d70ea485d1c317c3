//go:build windows

package selector

import (
	"sync"

	"golang.org/x/sys/windows"

	"github.com/joeycumines/open-coroutine-go/selector/internal"
)

// iocpSelector is grounded on the teacher's poller_windows.go FastPoller:
// one IOCP handle, sockets associated via CreateIoCompletionPort, events
// retrieved via GetQueuedCompletionStatus.
//
// IOCP is completion-based, not readiness-based, so read/write interest
// is emulated with the standard zero-byte overlapped WSARecv/WSASend
// trick: posting a zero-length operation that completes as soon as the
// socket becomes readable/writable, without consuming any data.
type iocpSelector struct {
	iocp windows.Handle
	reg  *internal.Registry
	mu   sync.Mutex
	ops  map[uint64]*overlappedOp
}

type overlappedOp struct {
	ov   windows.Overlapped
	fd   int
	tok  uint64
	write bool
}

func newPlatformSelector() (Selector, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &iocpSelector{iocp: iocp, reg: internal.NewRegistry(), ops: make(map[uint64]*overlappedOp)}, nil
}

func (s *iocpSelector) RegisterRead(fd int) (uint64, error)  { return s.register(fd, false) }
func (s *iocpSelector) RegisterWrite(fd int) (uint64, error) { return s.register(fd, true) }

func (s *iocpSelector) register(fd int, write bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := windows.Handle(fd)
	read, write2 := s.reg.Tokens(fd)
	firstTimeSeeingFD := read == 0 && write2 == 0
	if _, err := windows.CreateIoCompletionPort(h, s.iocp, uintptr(fd), 0); err != nil && firstTimeSeeingFD {
		// A handle already associated with this IOCP returns an error on
		// a second association attempt, which is expected once a read
		// and a write are both armed for the same fd.
		return 0, err
	}

	tok := s.reg.Add(fd, write)
	op := &overlappedOp{fd: fd, tok: tok, write: write}
	s.ops[tok] = op

	var buf windows.WSABuf
	var flags, n uint32
	sock := windows.Handle(fd)
	if write {
		if err := windows.WSASend(sock, &buf, 0, &n, flags, &op.ov, nil); err != nil && err != windows.WSA_IO_PENDING {
			delete(s.ops, tok)
			s.reg.Remove(tok)
			return 0, err
		}
	} else {
		if err := windows.WSARecv(sock, &buf, 0, &n, &flags, &op.ov, nil); err != nil && err != windows.WSA_IO_PENDING {
			delete(s.ops, tok)
			s.reg.Remove(tok)
			return 0, err
		}
	}
	return tok, nil
}

func (s *iocpSelector) Deregister(token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, ok := s.reg.Remove(token); !ok {
		return ErrNotRegistered
	}
	delete(s.ops, token)
	// The in-flight zero-byte overlapped op, if any, is left to complete
	// and is dropped when its completion packet arrives with an unknown
	// token (see Poll).
	return nil
}

func (s *iocpSelector) Poll(timeoutMs int, dst []Event) ([]Event, error) {
	var bytes uint32
	var key uintptr
	var ov *windows.Overlapped
	timeout := uint32(timeoutMs)
	if timeoutMs < 0 {
		timeout = windows.INFINITE
	}
	err := windows.GetQueuedCompletionStatus(s.iocp, &bytes, &key, &ov, timeout)
	if err != nil {
		if err == windows.WAIT_TIMEOUT {
			return dst, nil
		}
		return dst, err
	}
	if ov == nil {
		return dst, nil
	}

	s.mu.Lock()
	var found *overlappedOp
	for _, op := range s.ops {
		if &op.ov == ov {
			found = op
			break
		}
	}
	if found != nil {
		delete(s.ops, found.tok)
	}
	s.mu.Unlock()

	if found == nil {
		return dst, nil // deregistered before completion arrived
	}
	ev := Event{FD: found.fd}
	if found.write {
		ev.Writable = true
	} else {
		ev.Readable = true
	}
	return append(dst, ev), nil
}

func (s *iocpSelector) Close() error {
	return windows.CloseHandle(s.iocp)
}
