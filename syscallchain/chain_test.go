package syscallchain_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/evloop"
	"github.com/joeycumines/open-coroutine-go/scheduler"
	"github.com/joeycumines/open-coroutine-go/syscallchain"
	"github.com/joeycumines/open-coroutine-go/wsqueue"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *evloop.EventLoop {
	t.Helper()
	injector := wsqueue.NewInjector[*coroutine.Coroutine](8)
	sched := scheduler.New(injector, 32, wsqueue.LIFO, nil, nil)
	loop, err := evloop.New(sched, nil)
	require.NoError(t, err)
	return loop
}

var errWouldBlock = errors.New("would block")

func alwaysWouldBlock(err error) bool { return errors.Is(err, errWouldBlock) }

// runCoroutine submits a one-shot coroutine running fn, driving the
// scheduler's loop directly (no background goroutine) until it
// completes, and returns its recorded Complete value.
func runCoroutine(t *testing.T, loop *evloop.EventLoop, fn func(s *coroutine.Suspender) any) any {
	t.Helper()
	co, err := coroutine.New("test", func(s *coroutine.Suspender, _ any) any {
		return fn(s)
	}, 64*1024, nil)
	require.NoError(t, err)
	require.NoError(t, loop.Scheduler.Submit(co))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := loop.Scheduler.Result("test"); ok {
			require.NoError(t, r.Err)
			return r.Value
		}
		loop.Scheduler.TryTimeoutSchedule(time.Now().Add(5 * time.Millisecond))
	}
	t.Fatal("coroutine did not complete in time")
	return nil
}

func TestChainSleepRejectsNegativeDuration(t *testing.T) {
	loop := newTestLoop(t)
	chain := syscallchain.NewChain(loop, syscallchain.Raw{}, alwaysWouldBlock)

	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		return chain.Sleep(s, -time.Second)
	})
	err, _ := result.(error)
	require.Error(t, err)
	require.ErrorIs(t, err, coroutine.ErrInvalidArgument)
}

func TestChainSleepCompletesAfterDuration(t *testing.T) {
	loop := newTestLoop(t)
	chain := syscallchain.NewChain(loop, syscallchain.Raw{}, alwaysWouldBlock)

	start := time.Now()
	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		return chain.Sleep(s, 20*time.Millisecond)
	})
	require.Nil(t, result)
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestChainReadReturnsImmediateData(t *testing.T) {
	loop := newTestLoop(t)

	raw := syscallchain.Raw{
		Read: func(fd int, buf []byte) (int, error) {
			copy(buf, "hi")
			return 2, nil
		},
		SetNonblock: func(int, bool) error { return nil },
	}
	chain := syscallchain.NewChain(loop, raw, alwaysWouldBlock)

	type readResult struct {
		n   int
		err error
	}
	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		buf := make([]byte, 2)
		n, err := chain.Read(s, 7, buf, time.Now().Add(time.Second))
		return readResult{n: n, err: err}
	})
	rr := result.(readResult)
	require.NoError(t, rr.err)
	require.Equal(t, 2, rr.n)
}

func TestChainReadPropagatesHardError(t *testing.T) {
	loop := newTestLoop(t)
	wantErr := errors.New("bad file descriptor")

	raw := syscallchain.Raw{
		Read:        func(fd int, buf []byte) (int, error) { return 0, wantErr },
		SetNonblock: func(int, bool) error { return nil },
	}
	chain := syscallchain.NewChain(loop, raw, alwaysWouldBlock)

	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		_, err := chain.Read(s, 7, make([]byte, 4), time.Now().Add(time.Second))
		return err
	})
	require.Equal(t, wantErr, result)
}

func TestConnectSucceedsImmediately(t *testing.T) {
	loop := newTestLoop(t)
	raw := syscallchain.Raw{
		SetNonblock: func(int, bool) error { return nil },
	}
	chain := syscallchain.NewChain(loop, raw, alwaysWouldBlock)

	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		return chain.Connect(s, 3, func() error { return nil })
	})
	require.Nil(t, result)
}

func TestConnectPropagatesHardError(t *testing.T) {
	loop := newTestLoop(t)
	wantErr := errors.New("connection refused")
	raw := syscallchain.Raw{
		SetNonblock: func(int, bool) error { return nil },
	}
	chain := syscallchain.NewChain(loop, raw, alwaysWouldBlock)

	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		return chain.Connect(s, 3, func() error { return wantErr })
	})
	require.Equal(t, wantErr, result)
}

func TestSetSockOptRecordsRecvTimeout(t *testing.T) {
	loop := newTestLoop(t)

	// A real pipe read-end gives the selector a genuinely pollable fd
	// that never becomes readable (nothing is ever written to it), so
	// the read call is exercised all the way into a real wait/timeout.
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(); _ = w.Close() })
	fd := int(r.Fd())

	chain := syscallchain.NewChain(loop, syscallchain.Raw{
		SetNonblock: func(int, bool) error { return nil },
		Read: func(fd int, buf []byte) (int, error) {
			return 0, errWouldBlock
		},
	}, alwaysWouldBlock)

	forwarded := false
	optErr := chain.SetSockOpt(fd, syscallchain.SOL_SOCKET, syscallchain.SO_RCVTIMEO, 20*time.Millisecond, func() error {
		forwarded = true
		return nil
	})
	require.NoError(t, optErr)
	require.True(t, forwarded)

	co, err := coroutine.New("sockopt-test", func(s *coroutine.Suspender, _ any) any {
		_, rerr := chain.Read(s, fd, make([]byte, 1), time.Time{})
		return rerr
	}, 64*1024, nil)
	require.NoError(t, err)
	require.NoError(t, loop.Scheduler.Submit(co))

	go loop.Run()
	t.Cleanup(func() { loop.Stop(time.Second) })

	deadline := time.Now().Add(2 * time.Second)
	var result Result
	for time.Now().Before(deadline) {
		if r, ok := loop.Scheduler.Result("sockopt-test"); ok {
			result = r
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, result.Err)
	require.ErrorIs(t, result.Value.(error), coroutine.ErrTimeout)
}

type Result = scheduler.Result
