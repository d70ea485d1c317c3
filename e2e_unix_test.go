//go:build linux || darwin

package opencoroutine_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/syscallchain"
	"github.com/stretchr/testify/require"
)

func unixRaw() syscallchain.Raw {
	return syscallchain.Raw{
		Read: func(fd int, buf []byte) (int, error) {
			n, err := unix.Read(fd, buf)
			if n < 0 {
				n = 0
			}
			return n, err
		},
		Write: func(fd int, buf []byte) (int, error) {
			n, err := unix.Write(fd, buf)
			if n < 0 {
				n = 0
			}
			return n, err
		},
		SetNonblock: unix.SetNonblock,
		SockError: func(fd int) error {
			v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if err != nil {
				return err
			}
			if v != 0 {
				return unix.Errno(v)
			}
			return nil
		},
	}
}

func unixVectoredRaw() syscallchain.VectoredRaw {
	return syscallchain.VectoredRaw{
		ReadV: func(fd int, iov [][]byte) (int, error) {
			n, err := unix.Readv(fd, iov)
			if n < 0 {
				n = 0
			}
			return n, err
		},
		WriteV: func(fd int, iov [][]byte) (int, error) {
			n, err := unix.Writev(fd, iov)
			if n < 0 {
				n = 0
			}
			return n, err
		},
	}
}

func unixWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR) || errors.Is(err, unix.EINPROGRESS) ||
		errors.Is(err, unix.EALREADY)
}

// readFull loops chain.Read until exactly len(buf) bytes have arrived;
// a single Read returns on the first successful raw attempt, which for a
// stream socket may be a fragment.
func readFull(chain *syscallchain.Chain, s *coroutine.Suspender, fd int, buf []byte, deadline time.Time) error {
	total := 0
	for total < len(buf) {
		n, err := chain.Read(s, fd, buf[total:], deadline)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("unexpected EOF after %d bytes", total)
		}
		total += n
	}
	return nil
}

// TestEchoClientServer is the echo scenario end-to-end over real TCP
// sockets on one event loop: the server accepts one connection, then
// three iterations of read-12/write-256, then three iterations of
// readv-512-into-two-buffers/write-512; the client mirrors the protocol
// with writev on the vectored leg. Both sides run as coroutines parked
// on selector readiness, never blocking the loop's OS thread.
func TestEchoClientServer(t *testing.T) {
	rt := newRuntime(t)
	deadline := time.Now().Add(10 * time.Second)

	lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(lfd)
	require.NoError(t, unix.SetNonblock(lfd, true))
	require.NoError(t, unix.Bind(lfd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, unix.Listen(lfd, 1))
	sa, err := unix.Getsockname(lfd)
	require.NoError(t, err)

	request := []byte("hello server") // 12 bytes
	reply := bytes.Repeat([]byte{0xAB}, 256)
	block := bytes.Repeat([]byte{0xCD}, 512)

	serverChain := rt.NewChain(unixRaw(), unixWouldBlock)
	server, err := rt.SubmitCoroutine("echo-server", func(s *coroutine.Suspender, _ any) any {
		connFD, err := serverChain.Accept(s, lfd, func() (int, error) {
			nfd, _, err := unix.Accept(lfd)
			return nfd, err
		}, deadline)
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		defer func() {
			_ = serverChain.Close(connFD)
			_ = unix.Close(connFD)
		}()
		if err := unix.SetNonblock(connFD, true); err != nil {
			return err
		}

		var received int
		for i := 0; i < 3; i++ {
			buf := make([]byte, len(request))
			if err := readFull(serverChain, s, connFD, buf, deadline); err != nil {
				return fmt.Errorf("read %d: %w", i, err)
			}
			if !bytes.Equal(buf, request) {
				return fmt.Errorf("read %d: got %q", i, buf)
			}
			received += len(buf)
			if _, err := serverChain.Write(s, connFD, reply, deadline); err != nil {
				return fmt.Errorf("write %d: %w", i, err)
			}
		}
		for i := 0; i < 3; i++ {
			a, b := make([]byte, 256), make([]byte, 256)
			n, err := serverChain.ReadV(s, unixVectoredRaw(), connFD, [][]byte{a, b}, deadline)
			if err != nil {
				return fmt.Errorf("readv %d: %w", i, err)
			}
			if n != 512 || !bytes.Equal(append(a, b...), block) {
				return fmt.Errorf("readv %d: got %d bytes", i, n)
			}
			received += n
			if _, err := serverChain.Write(s, connFD, block, deadline); err != nil {
				return fmt.Errorf("write block %d: %w", i, err)
			}
		}
		return received
	}, 0)
	require.NoError(t, err)

	clientChain := rt.NewChain(unixRaw(), unixWouldBlock)
	client, err := rt.SubmitCoroutine("echo-client", func(s *coroutine.Suspender, _ any) any {
		cfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			return err
		}
		defer func() {
			_ = clientChain.Close(cfd)
			_ = unix.Close(cfd)
		}()
		if err := clientChain.Connect(s, cfd, func() error { return unix.Connect(cfd, sa) }); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		var received int
		for i := 0; i < 3; i++ {
			if _, err := clientChain.Write(s, cfd, request, deadline); err != nil {
				return fmt.Errorf("write %d: %w", i, err)
			}
			buf := make([]byte, len(reply))
			if err := readFull(clientChain, s, cfd, buf, deadline); err != nil {
				return fmt.Errorf("read %d: %w", i, err)
			}
			if !bytes.Equal(buf, reply) {
				return fmt.Errorf("read %d: wrong payload", i)
			}
			received += len(buf)
		}
		for i := 0; i < 3; i++ {
			half1, half2 := block[:256], block[256:]
			n, err := clientChain.WriteV(s, unixVectoredRaw(), cfd, [][]byte{half1, half2}, deadline)
			if err != nil {
				return fmt.Errorf("writev %d: %w", i, err)
			}
			if n != 512 {
				return fmt.Errorf("writev %d: short write %d", i, n)
			}
			buf := make([]byte, 512)
			if err := readFull(clientChain, s, cfd, buf, deadline); err != nil {
				return fmt.Errorf("read block %d: %w", i, err)
			}
			received += len(buf)
		}
		return received
	}, 0)
	require.NoError(t, err)

	sv, err := server.TimeoutJoin(30 * time.Second)
	require.NoError(t, err)
	require.Equal(t, 3*12+3*512, sv, "server byte count: %v", sv)

	cv, err := client.TimeoutJoin(30 * time.Second)
	require.NoError(t, err)
	require.Equal(t, 3*256+3*512, cv, "client byte count: %v", cv)
}

// TestFileRoundTripThroughEventLoopCoroutine is the file-I/O scenario: a
// coroutine on an event loop opens a temp file, fsyncs and seeks through
// the chain's off-thread filesystem adapters (writing and reading with
// plain unix calls), and verifies the payload reads back equal.
func TestFileRoundTripThroughEventLoopCoroutine(t *testing.T) {
	rt := newRuntime(t)
	chain := rt.NewChain(unixRaw(), unixWouldBlock)

	path := t.TempDir() + "/roundtrip.txt"
	payload := []byte("Hello World!")

	h, err := rt.SubmitCoroutine("file-roundtrip", func(s *coroutine.Suspender, _ any) any {
		fd, err := chain.Openat(s, func() (int, error) {
			return unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o600)
		})
		if err != nil {
			return err
		}
		defer unix.Close(fd)

		if n, err := unix.Write(fd, payload); err != nil || n != len(payload) {
			return fmt.Errorf("write: n=%d err=%v", n, err)
		}
		if err := chain.Fsync(s, func() error { return unix.Fsync(fd) }); err != nil {
			return err
		}
		off, err := chain.Lseek(s, func() (int64, error) {
			return unix.Seek(fd, 0, 0)
		})
		if err != nil || off != 0 {
			return fmt.Errorf("lseek: off=%d err=%v", off, err)
		}
		buf := make([]byte, len(payload))
		if n, err := unix.Read(fd, buf); err != nil || n != len(payload) {
			return fmt.Errorf("read: n=%d err=%v", n, err)
		}
		return bytes.Equal(buf, payload)
	}, 0)
	require.NoError(t, err)

	v, err := h.TimeoutJoin(30 * time.Second)
	require.NoError(t, err)
	require.Equal(t, true, v)
}
