// Package syscallchain implements the decorator chain from spec.md §3
// and §4.K: Facade -> [IoUring] -> NioRead|NioWrite|NioTimeout -> Raw,
// converting blocking POSIX/Win32 calls into coroutine suspensions
// routed through an evloop.EventLoop.
//
// Grounded on the teacher eventloop package's promisify.go, which
// already does "wrap a blocking-style call so it parks the calling
// context instead of blocking an OS thread" for goroutine callbacks;
// this package generalizes that idea from "promisify a callback API" to
// "adapt a syscall so it suspends the calling coroutine".
//
// chain.go covers the socket I/O family (Sleep/Read/Write/Connect/
// Close/Shutdown); listen.go adds the remaining readiness-driven network
// hooks spec.md §6 names (Socket/Listen/Accept/Poll/Select); file.go
// adds the filesystem family (Fsync/Rename/Mkdir/Rmdir/Link/Unlink/
// Lseek/Openat), which have no O_NONBLOCK equivalent or fd to wait
// readiness on, so they suspend the coroutine around an off-thread call
// instead of a retry-against-readiness loop; vectored.go, sockopt.go,
// and sync.go round out the vectored I/O, setsockopt, and
// pthread_mutex_trylock/pthread_cond_timedwait hooks.
package syscallchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/evloop"
)

// Slice is the default scheduling time-quantum named in spec.md
// §4.K/GLOSSARY, used to break long waits into retry-sized pieces.
const Slice = 10 * time.Millisecond

// Raw is the terminal link: the actual OS call. Implementations are
// supplied by callers (so this package stays free of build-tag-specific
// syscalls); a nil Raw.Read/Write etc. is a programming error.
type Raw struct {
	// Read/Write perform one attempt at the underlying operation, each
	// returning (n, err) exactly as the OS call would, including
	// EAGAIN/EWOULDBLOCK/EINTR errors, which the Chain's Classifier sorts
	// into retry versus hard failure.
	Read  func(fd int, buf []byte) (int, error)
	Write func(fd int, buf []byte) (int, error)
	// SetNonblock toggles O_NONBLOCK (POSIX) or the non-blocking-mode
	// socket option (Windows) for fd.
	SetNonblock func(fd int, nonblocking bool) error
	// SockError reads SO_ERROR, used by Connect to classify completion.
	SockError func(fd int) error
}

// Classifier decides whether an error from Raw represents a transient
// would-block/in-progress/EINTR condition that the chain should wait and
// retry, versus a hard failure to pass straight through.
type Classifier func(err error) bool

// DefaultClassifier treats context.DeadlineExceeded as transient (for
// testing with non-OS Raw implementations) plus whatever the caller's
// platform-specific predicate recognizes.
func DefaultClassifier(platformWouldBlock func(error) bool) Classifier {
	return func(err error) bool {
		return errors.Is(err, context.DeadlineExceeded) || (platformWouldBlock != nil && platformWouldBlock(err))
	}
}

// Chain's recvLimits/sendLimits hold the per-fd SO_RCVTIMEO/SO_SNDTIMEO
// style deadlines populated by the setsockopt interceptor (Chain.SetSockTimeout).
type Chain struct {
	Loop       *evloop.EventLoop
	Raw        Raw
	WouldBlock Classifier

	recvLimits map[int]time.Duration
	sendLimits map[int]time.Duration
}

// NewChain builds a chain bound to one event loop and one set of raw
// syscall primitives.
func NewChain(loop *evloop.EventLoop, raw Raw, wouldBlock Classifier) *Chain {
	return &Chain{
		Loop:       loop,
		Raw:        raw,
		WouldBlock: wouldBlock,
		recvLimits: make(map[int]time.Duration),
		sendLimits: make(map[int]time.Duration),
	}
}

// NewDirectChain builds a chain with no event loop: every adapter calls
// straight through to Raw in its ordinary blocking form, which is the
// hook_enabled=false behavior from spec.md §6 ("off = direct raw"). The
// sockopt time-limit table still functions so toggling the flag doesn't
// lose recorded timeouts.
func NewDirectChain(raw Raw) *Chain {
	return &Chain{
		Raw:        raw,
		WouldBlock: func(error) bool { return false },
		recvLimits: make(map[int]time.Duration),
		sendLimits: make(map[int]time.Duration),
	}
}

// Hooked reports whether this chain routes waits through an event loop
// (true) or calls Raw directly (false).
func (c *Chain) Hooked() bool { return c.Loop != nil }

// waitEvent parks the coroutine on the bound event loop, or sleeps the
// calling goroutine when the chain is direct (s may be nil then).
func (c *Chain) waitEvent(s *coroutine.Suspender, d time.Duration) {
	if c.Loop == nil {
		time.Sleep(d)
		return
	}
	c.Loop.WaitEvent(s, d)
}

// SetSockTimeout records the recv/send time limit for fd, populated by
// the setsockopt interceptor per spec.md §4.K.
func (c *Chain) SetSockTimeout(fd int, recv, send time.Duration) {
	if recv > 0 {
		c.recvLimits[fd] = recv
	}
	if send > 0 {
		c.sendLimits[fd] = send
	}
}

// Sleep converts the sleep family wholesale to wait_event, per spec.md
// §4.K. Negative durations are rejected with an invalid-argument error
// before any waiting, matching the EINVAL boundary behavior in spec.md §8.
func (c *Chain) Sleep(s *coroutine.Suspender, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("syscallchain: sleep: %w: negative duration", coroutine.ErrInvalidArgument)
	}
	remaining := d
	for remaining > 0 {
		step := remaining
		if step > Slice {
			step = Slice
		}
		c.waitEvent(s, step)
		remaining -= step
		if remaining > 0 && s != nil && s.Preempted() {
			// Monitor flagged this coroutine as overrunning its slice;
			// splitting sleep into Slice-sized waits is what gives that
			// flag somewhere to be noticed (see package monitor).
			return nil
		}
	}
	return nil
}

// Read performs a NioRead per spec.md §4.K: temporarily non-blocking,
// retried in Slice-sized waits on read readiness until it completes,
// times out, or fails for a reason other than would-block/EINTR. A zero
// deadline falls back to fd's recv-time-limit from SetSockTimeout, if any.
func (c *Chain) Read(s *coroutine.Suspender, fd int, buf []byte, deadline time.Time) (int, error) {
	if deadline.IsZero() {
		if limit, ok := c.recvLimits[fd]; ok {
			deadline = time.Now().Add(limit)
		}
	}
	return c.nio(s, fd, buf, deadline, false)
}

// Write is Read's write-side counterpart (NioWrite), falling back to fd's
// send-time-limit when deadline is zero.
func (c *Chain) Write(s *coroutine.Suspender, fd int, buf []byte, deadline time.Time) (int, error) {
	if deadline.IsZero() {
		if limit, ok := c.sendLimits[fd]; ok {
			deadline = time.Now().Add(limit)
		}
	}
	return c.nio(s, fd, buf, deadline, true)
}

func (c *Chain) nio(s *coroutine.Suspender, fd int, buf []byte, deadline time.Time, write bool) (int, error) {
	if c.Loop == nil {
		if write {
			return c.Raw.Write(fd, buf)
		}
		return c.Raw.Read(fd, buf)
	}
	if err := c.Raw.SetNonblock(fd, true); err != nil {
		return 0, err
	}
	defer func() { _ = c.Raw.SetNonblock(fd, false) }()

	var total int
	for {
		var n int
		var err error
		// Running -> SystemCall(kind, Executing) is implicit here: the
		// coroutine is still Running from the scheduler's point of view
		// for the duration of this one non-blocking attempt, and only
		// transitions to SystemCall(SyscallSuspend) via the
		// WaitReadEvent/WaitWriteEvent call below when it would block.
		if write {
			n, err = c.Raw.Write(fd, buf[total:])
		} else {
			n, err = c.Raw.Read(fd, buf[total:])
		}
		if n > 0 {
			total += n
		}
		if err == nil {
			// Reads return as soon as any data arrived (recv
			// semantics); writes keep going until the whole buffer is
			// covered, re-attempting immediately so a filled socket
			// buffer surfaces as would-block on the next pass.
			if !write || total >= len(buf) || n == 0 {
				return total, nil
			}
			continue
		}
		if !c.WouldBlock(err) {
			return total, err
		}

		waitFor := Slice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return total, coroutine.ErrTimeout
			}
			if remaining < waitFor {
				waitFor = remaining
			}
		}

		var waitErr error
		if write {
			_, waitErr = c.Loop.WaitWriteEvent(s, fd, waitFor)
		} else {
			_, waitErr = c.Loop.WaitReadEvent(s, fd, waitFor)
		}
		if errors.Is(waitErr, coroutine.ErrTimeout) && !deadline.IsZero() && !time.Now().Before(deadline) {
			return total, coroutine.ErrTimeout
		}
	}
}

// Close deregisters fd's interests from the selector before the caller
// actually closes it, per spec.md §4.K, so no stale readiness is
// delivered after the fd is recycled.
func (c *Chain) Close(fd int) error {
	c.ClearSockTimeout(fd)
	if c.Loop == nil {
		return nil
	}
	return c.Loop.DelEvent(fd)
}

// Shutdown is Close's half-duplex counterpart: it still deregisters
// everything, since shutdown(SHUT_RDWR) makes both directions stale.
func (c *Chain) Shutdown(fd int) error {
	c.ClearSockTimeout(fd)
	if c.Loop == nil {
		return nil
	}
	return c.Loop.DelEvent(fd)
}

// Connect sets fd non-blocking, issues connect, and on
// EINPROGRESS/EALREADY waits on write readiness in Slice-sized
// increments, reading SO_ERROR on wake to decide success or failure, up
// to fd's recorded send-time-limit, per spec.md §4.K.
func (c *Chain) Connect(s *coroutine.Suspender, fd int, connect func() error) error {
	if c.Loop == nil {
		return connect()
	}
	if err := c.Raw.SetNonblock(fd, true); err != nil {
		return err
	}
	err := connect()
	if err == nil {
		return nil
	}
	if !c.WouldBlock(err) {
		return err
	}

	var deadline time.Time
	if limit, ok := c.sendLimits[fd]; ok {
		deadline = time.Now().Add(limit)
	}
	for {
		waitFor := Slice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return coroutine.ErrTimeout
			}
			if remaining < waitFor {
				waitFor = remaining
			}
		}
		if _, waitErr := c.Loop.WaitWriteEvent(s, fd, waitFor); errors.Is(waitErr, coroutine.ErrTimeout) {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return coroutine.ErrTimeout
			}
			continue
		}
		if sockErr := c.Raw.SockError(fd); sockErr != nil {
			return sockErr
		}
		return nil
	}
}
