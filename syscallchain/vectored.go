package syscallchain

import (
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
)

// VectoredRaw is the subset of Raw needed for readv/writev/recvmsg/sendmsg
// style calls: one attempt against the current iovec cursor, returning
// bytes transferred this attempt.
type VectoredRaw struct {
	ReadV  func(fd int, iov [][]byte) (int, error)
	WriteV func(fd int, iov [][]byte) (int, error)
}

// ReadV performs a vectored NioRead: iov is consumed in place (advanced
// past fully-read buffers, sliced for a partially-read one) across
// retries, so a caller that holds onto iov after ReadV returns sees only
// the unread remainder -- matching readv(2)'s cumulative-progress
// semantics under repeated EINTR/EAGAIN per spec.md §4.K.
func (c *Chain) ReadV(s *coroutine.Suspender, raw VectoredRaw, fd int, iov [][]byte, deadline time.Time) (int, error) {
	return c.vectored(s, raw, fd, iov, deadline, false)
}

// WriteV is ReadV's write-side counterpart (writev/sendmsg).
func (c *Chain) WriteV(s *coroutine.Suspender, raw VectoredRaw, fd int, iov [][]byte, deadline time.Time) (int, error) {
	return c.vectored(s, raw, fd, iov, deadline, true)
}

func (c *Chain) vectored(s *coroutine.Suspender, raw VectoredRaw, fd int, iov [][]byte, deadline time.Time, write bool) (int, error) {
	if c.Loop == nil {
		if write {
			return raw.WriteV(fd, iov)
		}
		return raw.ReadV(fd, iov)
	}
	if err := c.Raw.SetNonblock(fd, true); err != nil {
		return 0, err
	}
	defer func() { _ = c.Raw.SetNonblock(fd, false) }()

	if deadline.IsZero() {
		limits := c.recvLimits
		if write {
			limits = c.sendLimits
		}
		if limit, ok := limits[fd]; ok {
			deadline = time.Now().Add(limit)
		}
	}

	var total int
	for len(iov) > 0 {
		var n int
		var err error
		if write {
			n, err = raw.WriteV(fd, iov)
		} else {
			n, err = raw.ReadV(fd, iov)
		}
		if n > 0 {
			total += n
			iov = advance(iov, n)
		}
		if err == nil {
			if len(iov) == 0 {
				return total, nil
			}
			// short read/write with no error: source exhausted for now,
			// fall through to wait for readiness same as EAGAIN.
		} else if !c.WouldBlock(err) {
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
		_ = waitErr
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return total, coroutine.ErrTimeout
		}
	}
	return total, nil
}

// advance drops the first n bytes from a list of buffers, splitting a
// partially-consumed buffer rather than copying it, rebuilding the iovec
// the way readv/writev callers expect to resume from.
func advance(iov [][]byte, n int) [][]byte {
	for n > 0 && len(iov) > 0 {
		if n < len(iov[0]) {
			iov[0] = iov[0][n:]
			return iov
		}
		n -= len(iov[0])
		iov = iov[1:]
	}
	return iov
}
