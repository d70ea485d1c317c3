// Package evloop implements the per-OS-thread event loop from spec.md
// §3 and §4.J: a selector bound to a scheduler, exposing
// wait_read_event/wait_write_event/wait_event to the syscall chain and
// interleaving scheduler ticks with selector polls in its driver loop.
//
// Grounded on the teacher eventloop package's loop.go driver (interleave
// timer processing with poller.PollIO, idle in the poll up to the next
// timer deadline) and registry.go's id-keyed bookkeeping pattern,
// generalized from "fd -> JS callback" to "fd -> waiting coroutine
// name".
package evloop

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/open-coroutine-go/coroutine"
	"github.com/joeycumines/open-coroutine-go/logging"
	"github.com/joeycumines/open-coroutine-go/scheduler"
	"github.com/joeycumines/open-coroutine-go/selector"
	"github.com/joeycumines/open-coroutine-go/timerlist"
)

// defaultPollTimeout bounds how long a single Poll call may idle when
// nothing else gives it a tighter deadline.
const defaultPollTimeout = 100 * time.Millisecond

type waiter struct {
	fd       int
	write    bool
	readTok  uint64
	wrTok    uint64
	deadline uint64 // ResumeExternal when no timeout armed
}

// EventLoop binds one selector and one scheduler, intended to be driven
// by exactly one OS thread (goroutine), per spec.md §3/§5.
type EventLoop struct {
	Scheduler *scheduler.Scheduler

	sel    selector.Selector
	logger logging.Logger

	waiting  atomic.Bool
	stopping atomic.Bool

	mu        sync.Mutex
	byName    map[string]*waiter
	fdTimeout *timerlist.List[string] // deadline -> coroutine names

	doneCh chan struct{}
}

// New binds sched to a fresh platform selector.
func New(sched *scheduler.Scheduler, logger logging.Logger) (*EventLoop, error) {
	sel, err := selector.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NoOp
	}
	return &EventLoop{
		Scheduler: sched,
		sel:       sel,
		logger:    logger,
		byName:    make(map[string]*waiter),
		fdTimeout: timerlist.New[string](),
		doneCh:    make(chan struct{}),
	}, nil
}

// WaitReadEvent registers read interest on fd and parks the calling
// coroutine (via SystemCallWait) until readiness or timeout. Must be
// called from inside the coroutine whose Suspender is s.
func (l *EventLoop) WaitReadEvent(s *coroutine.Suspender, fd int, timeout time.Duration) (any, error) {
	return l.waitFD(s, fd, false, timeout)
}

// WaitWriteEvent is WaitReadEvent for write readiness.
func (l *EventLoop) WaitWriteEvent(s *coroutine.Suspender, fd int, timeout time.Duration) (any, error) {
	return l.waitFD(s, fd, true, timeout)
}

// WaitEvent is a pure timer suspension with no fd, for the sleep family
// (package syscallchain).
func (l *EventLoop) WaitEvent(s *coroutine.Suspender, timeout time.Duration) {
	s.DelayWith(nil, timeout)
}

func (l *EventLoop) waitFD(s *coroutine.Suspender, fd int, write bool, timeout time.Duration) (any, error) {
	name := s.CoroutineName()

	var tok uint64
	var err error
	if write {
		tok, err = l.sel.RegisterWrite(fd)
	} else {
		tok, err = l.sel.RegisterRead(fd)
	}
	if err != nil {
		return nil, err
	}

	w := &waiter{fd: fd, write: write}
	if write {
		w.wrTok = tok
	} else {
		w.readTok = tok
	}

	w.deadline = uint64(coroutine.ResumeExternal)
	if timeout > 0 {
		w.deadline = uint64(time.Now().Add(timeout).UnixNano())
	}

	l.mu.Lock()
	l.byName[name] = w
	if w.deadline != uint64(coroutine.ResumeExternal) {
		l.fdTimeout.Insert(w.deadline, name)
	}
	l.mu.Unlock()

	result := s.SystemCallWait(fmt.Sprintf("fd:%d", fd), coroutine.SyscallSuspend, nil)
	if errResult, ok := result.(error); ok {
		return nil, errResult
	}
	return result, nil
}

// DelReadEvent / DelWriteEvent / DelEvent propagate to the selector,
// per spec.md §4.J.
func (l *EventLoop) DelReadEvent(fd int) error  { return l.del(fd, false) }
func (l *EventLoop) DelWriteEvent(fd int) error { return l.del(fd, true) }

func (l *EventLoop) DelEvent(fd int) error {
	if err := l.del(fd, false); err != nil && err != selector.ErrNotRegistered {
		return err
	}
	if err := l.del(fd, true); err != nil && err != selector.ErrNotRegistered {
		return err
	}
	return nil
}

func (l *EventLoop) del(fd int, write bool) error {
	l.mu.Lock()
	var tok uint64
	var ok bool
	for _, w := range l.byName {
		if w.fd != fd {
			continue
		}
		if write && w.wrTok != 0 {
			tok, ok = w.wrTok, true
		}
		if !write && w.readTok != 0 {
			tok, ok = w.readTok, true
		}
	}
	l.mu.Unlock()
	if !ok {
		return selector.ErrNotRegistered
	}
	return l.sel.Deregister(tok)
}

// Run is the driver loop from spec.md §4.J: interleave
// scheduler.TryTimeoutSchedule with selector.Poll, idling in Poll up to
// the next timer deadline when both the scheduler and fd-timeout list
// are otherwise quiescent.
func (l *EventLoop) Run() {
	defer close(l.doneCh)
	var events []selector.Event
	for !l.stopping.Load() {
		until := l.nextDeadline()
		l.Scheduler.TryTimeoutSchedule(until)
		l.processFDTimeouts()

		timeoutMs := l.pollTimeoutMs(until)
		l.waiting.Store(true)
		var err error
		events, err = l.sel.Poll(timeoutMs, events[:0])
		l.waiting.Store(false)
		if err != nil {
			l.logger.Error("evloop: selector poll failed", err)
			continue
		}
		for _, ev := range events {
			l.dispatch(ev)
		}
	}
}

func (l *EventLoop) nextDeadline() time.Time {
	deadline, ok := l.Scheduler.NextDeadline()
	if fdTS, fdOK := l.earliestFDTimeout(); fdOK && (!ok || fdTS.Before(deadline)) {
		deadline, ok = fdTS, true
	}
	if !ok {
		return time.Now().Add(defaultPollTimeout)
	}
	return deadline
}

func (l *EventLoop) earliestFDTimeout() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, _, ok := l.fdTimeout.Front()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, int64(ts)), true
}

func (l *EventLoop) pollTimeoutMs(until time.Time) int {
	d := time.Until(until)
	if d <= 0 {
		return 0
	}
	if ms := d.Milliseconds(); ms > 0 {
		return int(ms)
	}
	return 1
}

func (l *EventLoop) processFDTimeouts() {
	now := uint64(time.Now().UnixNano())
	var due []string
	l.mu.Lock()
	l.fdTimeout.DrainDue(now, func(_ uint64, name string) { due = append(due, name) })
	l.mu.Unlock()
	for _, name := range due {
		l.mu.Lock()
		w, ok := l.byName[name]
		if ok {
			delete(l.byName, name)
		}
		l.mu.Unlock()
		if !ok {
			continue
		}
		if w.readTok != 0 {
			_ = l.sel.Deregister(w.readTok)
		}
		if w.wrTok != 0 {
			_ = l.sel.Deregister(w.wrTok)
		}
		l.Scheduler.TryResume(name, coroutine.ErrTimeout)
	}
}

func (l *EventLoop) dispatch(ev selector.Event) {
	l.mu.Lock()
	var name string
	var w *waiter
	for n, cand := range l.byName {
		if cand.fd != ev.FD {
			continue
		}
		if (ev.Readable && cand.readTok != 0) || (ev.Writable && cand.wrTok != 0) || ev.Error || ev.Hangup {
			name, w = n, cand
			delete(l.byName, n)
			if cand.deadline != uint64(coroutine.ResumeExternal) {
				l.fdTimeout.Remove(cand.deadline, func(v string) bool { return v == n })
			}
			break
		}
	}
	l.mu.Unlock()
	if w == nil {
		return
	}
	// A delivered event retires its interest's token (spec.md §4.D), so
	// the next wait on this fd re-registers from a clean slate rather
	// than stacking registrations per retry.
	if w.readTok != 0 {
		_ = l.sel.Deregister(w.readTok)
	}
	if w.wrTok != 0 {
		_ = l.sel.Deregister(w.wrTok)
	}
	l.Scheduler.TryResume(name, ev)
}

// Stop requests quiescence (spec.md §4.J): stops accepting new driver
// passes, drains ready/timer/syscall-suspended work until empty or
// grace elapses, and reports whether everything drained.
func (l *EventLoop) Stop(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	l.stopping.Store(true)
	<-l.doneCh
	var events []selector.Event
	for time.Now().Before(deadline) && !l.Scheduler.Idle() {
		l.Scheduler.TryTimeoutSchedule(deadline)
		l.processFDTimeouts()
		var err error
		if events, err = l.sel.Poll(1, events[:0]); err == nil {
			for _, ev := range events {
				l.dispatch(ev)
			}
		}
	}
	return l.Scheduler.Idle()
}
