package syscallchain

import (
	"time"
)

// Sockopt level/name constants recognized by SetSockOpt, mirroring the
// subset of setsockopt(2) the source project intercepts to populate its
// per-fd send/recv time-limit tables (spec.md §4.K).
const (
	SOL_SOCKET  = 1
	SO_RCVTIMEO = 20
	SO_SNDTIMEO = 21
)

// SetSockOpt intercepts setsockopt(SOL_SOCKET, SO_RCVTIMEO|SO_SNDTIMEO)
// and records the requested duration in the chain's time-limit tables
// instead of (or in addition to) forwarding to the OS, so that
// subsequent Read/Write/Connect calls on fd honor it without the caller
// re-specifying a deadline each time.
//
// Any other (level, name) pair is not recognized by this interceptor and
// forward is invoked unconditionally so the real option still takes
// effect.
func (c *Chain) SetSockOpt(fd int, level, name int, value time.Duration, forward func() error) error {
	if level == SOL_SOCKET {
		switch name {
		case SO_RCVTIMEO:
			c.SetSockTimeout(fd, value, 0)
		case SO_SNDTIMEO:
			c.SetSockTimeout(fd, 0, value)
		}
	}
	if forward == nil {
		return nil
	}
	return forward()
}

// ClearSockTimeout drops fd's recorded limits, called by Close/Shutdown
// interceptors so a recycled fd number doesn't inherit a stale timeout.
func (c *Chain) ClearSockTimeout(fd int) {
	delete(c.recvLimits, fd)
	delete(c.sendLimits, fd)
}
