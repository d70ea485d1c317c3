// Package scheduler implements the per-OS-thread coroutine multiplexer
// described in spec.md §3 and §4.G: a work-stealing ready queue, a
// suspended-timer list, a syscall-suspended table, a result table, and a
// listener list, driven by TryTimeoutSchedule.
//
// Grounded on the teacher eventloop package's loop.go driver loop (pop
// timers due, run one unit of work, file its outcome) generalized from
// "run one JS microtask/timer callback" to "resume one coroutine and
// file its new State", and on promise.go's subscriber-channel fan-out,
// reused here for WaitResult instead of a condvar since Go's idiom for
// a one-shot, many-waiter signal is a channel closed exactly once.
//
// # Bounding a stuck Resume
//
// Coroutine.Resume blocks its caller until the coroutine yields or
// completes, with no timeout of its own (see that package's doc
// comment) -- it is a simple primitive, and plugging a slice-based
// bound into its single blocking send/receive pair would entangle every
// caller with scheduling concerns that only this package has. A
// coroutine that never calls a Suspender method (spec.md §8 scenario 3:
// "c3 runs despite c1/c2 never yielding voluntarily") would otherwise
// wedge TryTimeoutSchedule's own loop forever inside that one Resume
// call, starving every sibling coroutine on this scheduler. So the
// bounding happens here instead: each Resume is driven from a detached
// goroutine behind a Slice-sized timeout: in time, the outcome is filed
// normally; late, RequestPreempt is flagged (for whatever cooperative
// checkpoint package monitor already covers) and the detached goroutine
// is left running to report its eventual outcome into a late-results
// queue, drained at the top of the next TryTimeoutSchedule pass -- the
// ready queue is never blocked behind one coroutine that refuses to
// give it back.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/ids"
	"github.com/joeycumines/open-coroutine-go/logging"
	"github.com/joeycumines/open-coroutine-go/timerlist"
	"github.com/joeycumines/open-coroutine-go/wsqueue"
)

var background = context.Background()

// Slice bounds how long TryTimeoutSchedule waits on any single Resume
// call before moving on to the next ready coroutine, mirroring the
// default scheduling quantum named throughout spec.md (config.Slice,
// syscallchain.Slice).
const Slice = 10 * time.Millisecond

// Result is one coroutine's terminal outcome, filed under its name.
type Result struct {
	Name  string
	Value any
	Err   error
}

// Scheduler multiplexes ready, suspended, and syscall-suspended
// coroutines onto one logical OS thread of control. Submit/TryResume may
// be called from any thread; TryTimeoutSchedule must be called from
// exactly one thread at a time (the owning event loop or pool driver).
type Scheduler struct {
	ID uint64

	injector *wsqueue.Injector[*coroutine.Coroutine]
	local    *wsqueue.Worker[*coroutine.Coroutine]
	timers   *timerlist.List[*coroutine.Coroutine]

	mu           sync.Mutex
	syscallTable map[string]*coroutine.Coroutine
	results      map[string]Result
	waiters      map[string]chan struct{}
	callbacks    map[string]any

	listenersMu sync.Mutex
	listeners   []coroutine.Listener

	// spinning counts Resume calls currently running past their Slice in
	// a detached goroutine (see lateMu/late below), so Idle doesn't
	// report quiescence while one of those is still unaccounted for.
	spinning atomic.Int64
	lateMu   sync.Mutex
	late     []lateResult

	logger logging.Logger
}

// lateResult is one Resume outcome that arrived after its Slice-bound
// wait in TryTimeoutSchedule already gave up on it.
type lateResult struct {
	co    *coroutine.Coroutine
	state coroutine.State
}

// New returns a Scheduler whose local deque has the given bounded
// capacity, sharing injector with sibling schedulers for work-stealing.
// siblings is consulted lazily so the caller may build the full set of
// schedulers before any of them starts running.
func New(injector *wsqueue.Injector[*coroutine.Coroutine], localCapacity int, order wsqueue.Order, siblings func() []*wsqueue.Worker[*coroutine.Coroutine], logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NoOp
	}
	s := &Scheduler{
		ID:           ids.Scheduler.Next(),
		injector:     injector,
		timers:       timerlist.New[*coroutine.Coroutine](),
		syscallTable: make(map[string]*coroutine.Coroutine),
		results:      make(map[string]Result),
		waiters:      make(map[string]chan struct{}),
		callbacks:    make(map[string]any),
		logger:       logger,
	}
	s.local = wsqueue.NewWorker(localCapacity, order, injector, siblings)
	return s
}

// LocalWorker exposes the scheduler's own deque so it can be included in
// a sibling-worker set passed to New for other schedulers.
func (s *Scheduler) LocalWorker() *wsqueue.Worker[*coroutine.Coroutine] { return s.local }

// AddListener attaches l to every coroutine Submitted from now on (used
// by the monitor and pool to install their creator-listeners).
func (s *Scheduler) AddListener(l coroutine.Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Submit admits co to this scheduler's ready queue, attaching every
// listener registered via AddListener.
func (s *Scheduler) Submit(co *coroutine.Coroutine) error {
	s.listenersMu.Lock()
	for _, l := range s.listeners {
		co.AddListener(l)
	}
	s.listenersMu.Unlock()
	return s.local.Push(background, co)
}

// TryResume locates name in the syscall-suspended table and moves it to
// ready with a Callback-phase wakeup, per spec.md §4.G's Resume API.
// Reports whether the coroutine was found.
func (s *Scheduler) TryResume(name string, callbackValue any) bool {
	s.mu.Lock()
	co, ok := s.syscallTable[name]
	if ok {
		delete(s.syscallTable, name)
		s.callbacks[name] = callbackValue
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.local.Push(background, co) == nil
}

// Result returns the recorded terminal outcome for name, if any.
func (s *Scheduler) Result(name string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[name]
	return r, ok
}

// WaitResult blocks until name's result is recorded or deadline elapses.
// A zero deadline means wait indefinitely.
func (s *Scheduler) WaitResult(name string, deadline time.Time) (Result, error) {
	for {
		s.mu.Lock()
		if r, ok := s.results[name]; ok {
			s.mu.Unlock()
			return r, nil
		}
		ch, ok := s.waiters[name]
		if !ok {
			ch = make(chan struct{})
			s.waiters[name] = ch
		}
		s.mu.Unlock()

		if deadline.IsZero() {
			<-ch
			continue
		}
		d := time.Until(deadline)
		if d <= 0 {
			return Result{}, coroutine.ErrTimeout
		}
		timer := time.NewTimer(d)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return Result{}, coroutine.ErrTimeout
		}
	}
}

// NextDeadline reports the earliest pending timer deadline, if any, so
// a driver (event loop or pool) can size its own idle wait.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	ts, _, ok := s.timers.Front()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, int64(ts)), true
}

// Idle reports whether the scheduler currently has no ready, suspended,
// or syscall-suspended work, and no Resume call still running past its
// Slice in the background (see resume/drainLate below).
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	n := len(s.syscallTable)
	s.mu.Unlock()
	return n == 0 && s.timers.Len() == 0 && s.local.Len() == 0 && s.spinning.Load() == 0
}

// TryTimeoutSchedule runs the main loop from spec.md §4.G until either
// no work is schedulable or now >= deadline. Returns true if it exited
// because work ran out (as opposed to the deadline).
func (s *Scheduler) TryTimeoutSchedule(deadline time.Time) bool {
	for {
		s.drainLate()

		now := uint64(time.Now().UnixNano())
		s.timers.DrainDue(now, func(_ uint64, co *coroutine.Coroutine) {
			_ = s.local.Push(background, co)
		})

		co, ok := s.local.Next()
		if !ok {
			return true
		}

		s.mu.Lock()
		param := s.callbacks[co.Name]
		delete(s.callbacks, co.Name)
		s.mu.Unlock()

		s.resume(co, param)

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false
		}
	}
}

// resume drives one Resume call bounded by Slice. If the coroutine
// yields or completes in time, its outcome is filed immediately (still
// on the caller's goroutine, preserving TryTimeoutSchedule's
// single-threaded access to s.timers/s.local). Otherwise the coroutine
// is flagged for cooperative preemption and its in-flight Resume call is
// left running in the background; whatever it eventually yields is
// queued for drainLate to file on a later pass, so one coroutine that
// never voluntarily suspends cannot block its siblings from running
// (spec.md §8 scenario 3).
func (s *Scheduler) resume(co *coroutine.Coroutine, param any) {
	resultCh := make(chan coroutine.State, 1)
	go func() { resultCh <- co.Resume(param) }()

	select {
	case next := <-resultCh:
		s.file(co, next)
	case <-time.After(Slice):
		co.RequestPreempt()
		s.spinning.Add(1)
		go func() {
			next := <-resultCh
			s.lateMu.Lock()
			s.late = append(s.late, lateResult{co: co, state: next})
			s.lateMu.Unlock()
		}()
	}
}

// drainLate files every Resume outcome that arrived after resume gave up
// waiting on it, on the caller's own goroutine.
func (s *Scheduler) drainLate() {
	if s.spinning.Load() == 0 {
		return
	}
	s.lateMu.Lock()
	pending := s.late
	s.late = nil
	s.lateMu.Unlock()
	for _, lr := range pending {
		s.spinning.Add(-1)
		s.file(lr.co, lr.state)
	}
}

func (s *Scheduler) file(co *coroutine.Coroutine, next coroutine.State) {
	switch next.Kind {
	case coroutine.Suspend:
		if next.ResumeAt == coroutine.ResumeImmediately {
			_ = s.local.Push(background, co)
			return
		}
		s.timers.Insert(next.ResumeAt, co)
	case coroutine.SystemCall:
		switch next.SyscallPhase {
		case coroutine.Callback:
			_ = s.local.Push(background, co)
		default:
			s.mu.Lock()
			s.syscallTable[co.Name] = co
			s.mu.Unlock()
		}
	case coroutine.Complete, coroutine.Cancelled, coroutine.Error:
		s.recordResult(co, next)
	default:
		s.logger.Error("scheduler: unexpected filed state", fmt.Errorf("%v: %s", coroutine.ErrStateTransition, next.Kind))
	}
}

func (s *Scheduler) recordResult(co *coroutine.Coroutine, next coroutine.State) {
	r := Result{Name: co.Name}
	switch next.Kind {
	case coroutine.Complete:
		r.Value = next.ReturnValue
	case coroutine.Cancelled:
		r.Err = coroutine.ErrCancelled
	case coroutine.Error:
		r.Err = &coroutine.PanicError{Message: next.Message}
	}
	_ = co.Stack.Release()

	s.mu.Lock()
	s.results[co.Name] = r
	ch, ok := s.waiters[co.Name]
	if ok {
		delete(s.waiters, co.Name)
	}
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}
