package syscallchain

import (
	"errors"
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
)

// Socket and Listen are thin hooks over the two setup syscalls named in
// spec.md §6's hooked list. Neither blocks in a way a coroutine needs to
// be suspended for, so both just run create/listen and, for Socket, mark
// the new fd non-blocking up front so every later chain call on it
// (Read/Write/Connect/Accept) finds it already prepared -- the socket()
// call itself is the one place that fd's blocking mode is naturally
// decided once, rather than re-toggled on every syscall.
func (c *Chain) Socket(create func() (fd int, err error)) (int, error) {
	fd, err := create()
	if err != nil || c.Loop == nil {
		return fd, err
	}
	if err := c.Raw.SetNonblock(fd, true); err != nil {
		_ = c.Close(fd)
		return 0, err
	}
	return fd, nil
}

// Listen is a passthrough hook point; spec.md §6 names it among the
// interposed calls, but listen(2) itself never blocks.
func (c *Chain) Listen(listen func() error) error {
	return listen()
}

// Accept performs a NioAccept per spec.md §4.K/§6: fd is already
// non-blocking (via Socket), and accept is retried in Slice-sized waits
// on read readiness (a pending connection makes the listening socket
// readable) until one arrives, the deadline elapses, or accept fails for
// a reason other than would-block/EINTR. This is the literal hook the
// echo-client/server scenario (spec.md §8 scenario 2) needs on its
// listening socket.
func (c *Chain) Accept(s *coroutine.Suspender, fd int, accept func() (connFD int, err error), deadline time.Time) (int, error) {
	if c.Loop == nil {
		return accept()
	}
	for {
		connFD, err := accept()
		if err == nil {
			return connFD, nil
		}
		if !c.WouldBlock(err) {
			return 0, err
		}

		waitFor := Slice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, coroutine.ErrTimeout
			}
			if remaining < waitFor {
				waitFor = remaining
			}
		}

		_, waitErr := c.Loop.WaitReadEvent(s, fd, waitFor)
		if errors.Is(waitErr, coroutine.ErrTimeout) && !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, coroutine.ErrTimeout
		}
	}
}

// PollFD is one entry of a Poll/Select set: the fd being watched, the
// events requested (a platform-defined bitmask, passed through to
// pollOnce unexamined), and the events pollOnce reported ready.
type PollFD struct {
	FD      int
	Events  uint32
	Revents uint32
}

// Poll adapts poll(2)/WSAPoll per spec.md §6: pollOnce performs one
// zero-timeout attempt at the real syscall over fds (however the
// caller's platform represents that), and Poll retries it in
// Slice-sized waits -- each iteration parking the coroutine on
// WaitEvent, a pure timer suspension, rather than letting pollOnce's own
// blocking form tie up an OS thread. This generalizes the same
// "non-blocking attempt, suspend, retry" shape NioRead/NioWrite already
// use for a single fd to an arbitrary set, which is the only change
// poll/select need over read/write: many fds instead of one, and a
// polling-for-readiness retry instead of a readiness-triggered one
// (package evloop/selector has no API for "wake on whichever of N fds is
// first ready", so this is the idiomatic substitute).
func (c *Chain) Poll(s *coroutine.Suspender, fds []PollFD, pollOnce func([]PollFD) (int, error), deadline time.Time) (int, error) {
	if c.Loop == nil {
		return pollOnce(fds)
	}
	for {
		n, err := pollOnce(fds)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}

		waitFor := Slice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, coroutine.ErrTimeout
			}
			if remaining < waitFor {
				waitFor = remaining
			}
		}
		c.waitEvent(s, waitFor)
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			if n, err := pollOnce(fds); err != nil || n > 0 {
				return n, err
			}
			return 0, coroutine.ErrTimeout
		}
	}
}

// Select is poll's fd-set-flavored sibling in spec.md §6's hooked list;
// the underlying OS representation (fd_set bitmasks versus a pollfd
// array) differs, but the chain's treatment -- non-blocking attempt,
// suspend, retry -- is identical, so Select is Poll under another name
// for callers whose selectOnce closure already adapts select(2)'s
// calling convention to the same (fds, readyCount) shape.
func (c *Chain) Select(s *coroutine.Suspender, fds []PollFD, selectOnce func([]PollFD) (int, error), deadline time.Time) (int, error) {
	return c.Poll(s, fds, selectOnce, deadline)
}
