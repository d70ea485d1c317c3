package syscallchain

import (
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/join"
)

// defaultAsyncStack sizes the coroutine backing one async I/O
// operation; these run a single nio loop and nothing else.
const defaultAsyncStack = 128 * 1024

// AsyncRead starts one nio read as its own coroutine on the chain's
// event loop and returns a join.IOHandle resolving to the byte count,
// the single-operation join flavor the caller can await from anywhere
// (including outside any coroutine). On a direct chain the raw call
// runs on a plain goroutine instead.
func (c *Chain) AsyncRead(name string, fd int, buf []byte, deadline time.Time) (*join.IOHandle, error) {
	return c.asyncIO(name, fd, buf, deadline, false)
}

// AsyncWrite is AsyncRead's write-side counterpart.
func (c *Chain) AsyncWrite(name string, fd int, buf []byte, deadline time.Time) (*join.IOHandle, error) {
	return c.asyncIO(name, fd, buf, deadline, true)
}

func (c *Chain) asyncIO(name string, fd int, buf []byte, deadline time.Time, write bool) (*join.IOHandle, error) {
	h, resolve := join.NewIOHandle()

	if c.Loop == nil {
		go func() {
			n, err := c.nio(nil, fd, buf, deadline, write)
			resolve(n, err)
		}()
		return h, nil
	}

	co, err := coroutine.New(name, func(s *coroutine.Suspender, _ any) any {
		n, err := c.nio(s, fd, buf, deadline, write)
		resolve(n, err)
		if err != nil {
			return err
		}
		return n
	}, defaultAsyncStack, nil)
	if err != nil {
		return nil, err
	}
	if err := c.Loop.Scheduler.Submit(co); err != nil {
		return nil, err
	}
	return h, nil
}
