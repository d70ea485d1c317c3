package syscallchain

import (
	"github.com/joeycumines/open-coroutine-go/coroutine"
)

// runOffThreadErr runs op on a dedicated goroutine and suspends s in
// Slice-sized increments until it completes, for the filesystem calls
// spec.md §6 names (fsync, renameat/renameat2, mkdir/mkdirat, rmdir,
// link, unlink) that return only an error. Unlike sockets, these have no
// O_NONBLOCK equivalent and no fd-readiness signal to retry against --
// the only lever available to keep the event-loop thread from blocking
// on one is to run the real syscall elsewhere and park the coroutine in
// the meantime, generalizing the same "don't block an OS thread behind
// a blocking-style call" idea the teacher's promisify.go already applies
// to callback APIs, and NioRead/NioWrite already apply to sockets.
func runOffThreadErr(c *Chain, s *coroutine.Suspender, op func() error) error {
	done := make(chan error, 1)
	go func() { done <- op() }()
	for {
		select {
		case err := <-done:
			return err
		default:
		}
		c.waitEvent(s, Slice)
	}
}

// runOffThreadVal is runOffThreadErr's value-returning counterpart, for
// lseek (new offset) and openat (new fd).
func runOffThreadVal[T any](c *Chain, s *coroutine.Suspender, op func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op()
		done <- result{v, err}
	}()
	for {
		select {
		case r := <-done:
			return r.val, r.err
		default:
		}
		c.waitEvent(s, Slice)
	}
}

// Fsync adapts fsync(2).
func (c *Chain) Fsync(s *coroutine.Suspender, fsync func() error) error {
	return runOffThreadErr(c, s, fsync)
}

// Rename adapts renameat(2)/renameat2(2) (Linux); callers on platforms
// without renameat2 just never pass flags through their closure.
func (c *Chain) Rename(s *coroutine.Suspender, rename func() error) error {
	return runOffThreadErr(c, s, rename)
}

// Mkdir adapts mkdir(2)/mkdirat(2).
func (c *Chain) Mkdir(s *coroutine.Suspender, mkdir func() error) error {
	return runOffThreadErr(c, s, mkdir)
}

// Rmdir adapts rmdir(2).
func (c *Chain) Rmdir(s *coroutine.Suspender, rmdir func() error) error {
	return runOffThreadErr(c, s, rmdir)
}

// Link adapts link(2).
func (c *Chain) Link(s *coroutine.Suspender, link func() error) error {
	return runOffThreadErr(c, s, link)
}

// Unlink adapts unlink(2).
func (c *Chain) Unlink(s *coroutine.Suspender, unlink func() error) error {
	return runOffThreadErr(c, s, unlink)
}

// Lseek adapts lseek(2), returning the new offset.
func (c *Chain) Lseek(s *coroutine.Suspender, lseek func() (int64, error)) (int64, error) {
	return runOffThreadVal(c, s, lseek)
}

// Openat adapts openat(2) (and CreateFileW on Windows, per spec.md §6's
// Windows hook list), returning the new fd.
func (c *Chain) Openat(s *coroutine.Suspender, openat func() (int, error)) (int, error) {
	return runOffThreadVal(c, s, openat)
}
