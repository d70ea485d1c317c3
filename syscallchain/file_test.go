package syscallchain_test

import (
	"errors"
	"testing"

	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/syscallchain"
	"github.com/stretchr/testify/require"
)

func TestFsyncReturnsOnceTheOffThreadCallCompletes(t *testing.T) {
	loop := newTestLoop(t)
	chain := syscallchain.NewChain(loop, syscallchain.Raw{}, alwaysWouldBlock)

	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		return chain.Fsync(s, func() error { return nil })
	})
	require.Nil(t, result)
}

func TestFsyncPropagatesError(t *testing.T) {
	loop := newTestLoop(t)
	chain := syscallchain.NewChain(loop, syscallchain.Raw{}, alwaysWouldBlock)
	wantErr := errors.New("input/output error")

	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		return chain.Fsync(s, func() error { return wantErr })
	})
	require.Equal(t, wantErr, result)
}

func TestRenameMkdirRmdirLinkUnlinkAllCompleteOffThread(t *testing.T) {
	cases := map[string]func(chain *syscallchain.Chain, s *coroutine.Suspender) error{
		"rename": func(c *syscallchain.Chain, s *coroutine.Suspender) error { return c.Rename(s, func() error { return nil }) },
		"mkdir":  func(c *syscallchain.Chain, s *coroutine.Suspender) error { return c.Mkdir(s, func() error { return nil }) },
		"rmdir":  func(c *syscallchain.Chain, s *coroutine.Suspender) error { return c.Rmdir(s, func() error { return nil }) },
		"link":   func(c *syscallchain.Chain, s *coroutine.Suspender) error { return c.Link(s, func() error { return nil }) },
		"unlink": func(c *syscallchain.Chain, s *coroutine.Suspender) error { return c.Unlink(s, func() error { return nil }) },
	}
	for name, call := range cases {
		call := call
		t.Run(name, func(t *testing.T) {
			loop := newTestLoop(t)
			chain := syscallchain.NewChain(loop, syscallchain.Raw{}, alwaysWouldBlock)
			result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
				return call(chain, s)
			})
			require.Nil(t, result)
		})
	}
}

func TestLseekReturnsTheNewOffset(t *testing.T) {
	loop := newTestLoop(t)
	chain := syscallchain.NewChain(loop, syscallchain.Raw{}, alwaysWouldBlock)

	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		off, err := chain.Lseek(s, func() (int64, error) { return 128, nil })
		require.NoError(t, err)
		return off
	})
	require.Equal(t, int64(128), result)
}

func TestOpenatReturnsTheNewFD(t *testing.T) {
	loop := newTestLoop(t)
	chain := syscallchain.NewChain(loop, syscallchain.Raw{}, alwaysWouldBlock)

	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		fd, err := chain.Openat(s, func() (int, error) { return 11, nil })
		require.NoError(t, err)
		return fd
	})
	require.Equal(t, 11, result)
}

func TestOpenatPropagatesError(t *testing.T) {
	loop := newTestLoop(t)
	chain := syscallchain.NewChain(loop, syscallchain.Raw{}, alwaysWouldBlock)
	wantErr := errors.New("no such file or directory")

	result := runCoroutine(t, loop, func(s *coroutine.Suspender) any {
		_, err := chain.Openat(s, func() (int, error) { return 0, wantErr })
		return err
	})
	require.Equal(t, wantErr, result)
}
