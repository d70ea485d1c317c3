package syscallchain

import (
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
)

// TryLocker is the minimal surface pthread_mutex_trylock needs: a
// non-blocking attempt that reports whether the lock was acquired.
type TryLocker interface {
	TryLock() bool
}

// MutexTryLock loops TryLock in Slice-sized waits instead of blocking the
// carrier OS thread, per spec.md §4.K's supplemented pthread_mutex_trylock
// hook: a coroutine contending for a lock yields to the scheduler between
// attempts rather than parking a whole thread.
func (c *Chain) MutexTryLock(s *coroutine.Suspender, l TryLocker, deadline time.Time) error {
	for {
		if l.TryLock() {
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return coroutine.ErrTimeout
		}
		wait := Slice
		if !deadline.IsZero() {
			if remaining := time.Until(deadline); remaining < wait {
				wait = remaining
			}
		}
		c.waitEvent(s, wait)
	}
}

// CondWaiter is the minimal surface pthread_cond_timedwait needs: a
// non-blocking poll of whatever predicate the condition variable guards.
type CondWaiter interface {
	// Poll reports whether the awaited condition currently holds. It must
	// not block.
	Poll() bool
}

// CondTimedWait loops CondWaiter.Poll in Slice-sized waits, the same
// cooperative substitution MutexTryLock uses, per spec.md §4.K's
// supplemented pthread_cond_timedwait hook.
func (c *Chain) CondTimedWait(s *coroutine.Suspender, cond CondWaiter, deadline time.Time) error {
	for {
		if cond.Poll() {
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return coroutine.ErrTimeout
		}
		wait := Slice
		if !deadline.IsZero() {
			if remaining := time.Until(deadline); remaining < wait {
				wait = remaining
			}
		}
		c.waitEvent(s, wait)
	}
}
