// Package coroutine implements the stackful, one-shot, symmetric
// coroutine described in spec.md §3 and §4.E: a named unit of control
// with an explicit state machine, attached listeners, and a
// coroutine-local map, constructed with a dedicated stack and resumed
// with a parameter.
//
// # A note on "stackful"
//
// The original runtime hand-switches a CPU's stack pointer and
// instruction pointer to jump in and out of a coroutine's own stack,
// something Go deliberately does not expose to user code -- goroutine
// stacks are runtime-managed and grow/shrink automatically, and there is
// no supported way to park one goroutine's execution and resume it on
// demand from arbitrary call sites the way `resume`/`yield` do in the
// source project.
//
// This package reaches for the idiomatic Go substitute: each Coroutine
// is backed by its own goroutine, and resume/yield is a synchronous
// handshake over two unbuffered channels (resumeCh carries the resume
// parameter in, yieldCh carries the new State out). The caller of
// Resume blocks until the coroutine goroutine either yields or reaches
// a terminal state, which reproduces the "exactly one of {caller,
// coroutine} runs at a time" cooperative scheduling model from spec.md
// §5 even though two OS-level goroutines exist. A stack.Stack is still
// allocated per coroutine (via package stack) to keep guard-page
// protection and stack-size accounting meaningful for callers inspecting
// Coroutine.Stack, but it is not the goroutine's actual call stack.
package coroutine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/open-coroutine-go/ids"
	"github.com/joeycumines/open-coroutine-go/logging"
	"github.com/joeycumines/open-coroutine-go/stack"
)

// EntryFunc is the coroutine body: given its Suspender (for
// suspend/delay/cancel) and the param delivered by the first Resume, it
// returns the value recorded as Complete's return value. A panic inside
// EntryFunc is caught at the coroutine boundary and surfaced as Error
// (spec.md §4.E, §7).
type EntryFunc func(s *Suspender, param any) any

type cancelSentinel struct{}

// Coroutine is a stackful, one-shot, symmetric coroutine.
type Coroutine struct {
	ID   uint64
	Name string

	entry EntryFunc
	Stack stack.Stack

	// stackUsed is the logical watermark consulted by MaybeGrow; touched
	// only from this coroutine's own run goroutine, so it needs no lock
	// (same discipline as Suspender's methods).
	stackUsed int

	mu    sync.Mutex
	state State

	listenersMu sync.Mutex
	listeners   []Listener

	Local *Local

	suspender *Suspender
	resumeCh  chan any
	yieldCh   chan State

	started bool
	logger  logging.Logger

	pendingFinal State

	// preempt is set by package monitor when this coroutine has overrun
	// its scheduling slice while Running. Go gives user code no way to
	// force an asynchronous signal to unwind arbitrary running code the
	// way SIGURG/SIGRTMIN do in the source project, so this is checked
	// cooperatively at every suspension point and by the syscall chain's
	// slice loop instead -- see package monitor's doc comment.
	preempt atomic.Bool
}

// New allocates a stack of stackSize bytes and returns a Ready
// coroutine. name must be non-empty and unique within its scheduler for
// joins to work (spec.md §4.L).
func New(name string, entry EntryFunc, stackSize int, logger logging.Logger) (*Coroutine, error) {
	if name == "" {
		return nil, fmt.Errorf("coroutine: %w: name must not be empty", ErrInvalidArgument)
	}
	s, err := stack.Allocate(stack.Options{Size: stackSize, Guard: true})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NoOp
	}
	co := &Coroutine{
		ID:       ids.Coroutine.Next(),
		Name:     name,
		entry:    entry,
		Stack:    s,
		state:    StateReady(),
		Local:    newLocal(),
		resumeCh: make(chan any),
		yieldCh:  make(chan State),
		logger:   logger,
	}
	co.suspender = &Suspender{co: co}
	return co, nil
}

// AddListener attaches l; listeners are invoked in attachment order.
func (co *Coroutine) AddListener(l Listener) {
	co.listenersMu.Lock()
	defer co.listenersMu.Unlock()
	co.listeners = append(co.listeners, l)
}

func (co *Coroutine) listenersSnapshot() []Listener {
	co.listenersMu.Lock()
	defer co.listenersMu.Unlock()
	return append([]Listener(nil), co.listeners...)
}

// State returns the coroutine's current state.
func (co *Coroutine) State() State {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.state
}

// RequestPreempt marks that this coroutine has overrun its scheduling
// slice; consulted at the next suspension point. Called by package
// monitor only.
func (co *Coroutine) RequestPreempt() { co.preempt.Store(true) }

// ConsumePreempt reports and clears a pending preemption request.
func (co *Coroutine) ConsumePreempt() bool { return co.preempt.Swap(false) }

// Suspender returns the handle passed to the coroutine body; calling it
// from outside the coroutine's own goroutine is a programming error, per
// spec.md §4.F ("tied to the coroutine's stack").
func (co *Coroutine) Suspender() *Suspender { return co.suspender }

// Resume drives the coroutine: Ready/Suspend/SystemCall transition to
// Running, param is delivered to the coroutine body (or to whatever
// suspend/delay/until call is currently parked), and Resume blocks until
// the coroutine yields again or reaches a terminal state. Terminal
// states short-circuit and return immediately with the cached result,
// per spec.md §4.E.
//
// Resume itself has no timeout: a coroutine that never calls a
// Suspender method blocks its caller indefinitely. Package scheduler is
// the one that bounds this (driving Resume from a detached goroutine
// behind its own Slice-sized wait) so that a coroutine which never
// voluntarily yields cannot starve its siblings; see that package's doc
// comment.
func (co *Coroutine) Resume(param any) State {
	co.mu.Lock()
	old := co.state
	if old.Terminal() {
		co.mu.Unlock()
		return old
	}
	running := StateRunning()
	if !old.Resumable() {
		co.mu.Unlock()
		return StateError(fmt.Sprintf("%v: %s -> %s", ErrStateTransition, old.Kind, running.Kind))
	}
	co.state = running
	first := !co.started
	co.started = true
	co.mu.Unlock()

	co.notify(old, running)

	if first {
		go co.run()
	}
	co.resumeCh <- param
	final := <-co.yieldCh

	co.mu.Lock()
	co.state = final
	co.mu.Unlock()
	co.notify(running, final)
	return final
}

// run is the coroutine's own goroutine body. It starts parked waiting
// for the first Resume's param, executes entry under a panic boundary,
// and reports exactly one final state over yieldCh before returning.
func (co *Coroutine) run() {
	defer func() {
		var final State
		if r := recover(); r != nil {
			if _, ok := r.(cancelSentinel); ok {
				final = StateCancelled()
			} else {
				final = StateError(recoverMessage(r))
			}
		} else {
			final = co.pendingFinal
		}
		co.Local.clear()
		co.yieldCh <- final
	}()

	param := <-co.resumeCh
	ret := co.entry(co.suspender, param)
	co.pendingFinal = StateComplete(ret)
}

// Suspender is the handle given to a coroutine body for voluntary
// suspension, obtained only via Coroutine.Suspender from inside that
// coroutine's own run goroutine (spec.md §4.F).
type Suspender struct {
	co *Coroutine
}

// CoroutineName returns the name of the coroutine this Suspender belongs
// to, for adapters (package evloop, syscallchain) that need to key
// bookkeeping by name.
func (s *Suspender) CoroutineName() string { return s.co.Name }

// Preempted reports and clears a pending preemption request against this
// coroutine, for the syscall chain's slice loops (e.g. Sleep) to honor
// monitor-driven preemption at a cooperative checkpoint.
func (s *Suspender) Preempted() bool { return s.co.ConsumePreempt() }

// SuspendWith parks the coroutine immediately (ResumeImmediately),
// yielding value, and returns the param delivered by the next Resume.
func (s *Suspender) SuspendWith(value any) any {
	s.co.yieldCh <- StateSuspend(value, ResumeImmediately)
	return <-s.co.resumeCh
}

// DelayWith parks the coroutine until d has elapsed.
func (s *Suspender) DelayWith(value any, d time.Duration) any {
	if d <= 0 {
		return s.SuspendWith(value)
	}
	resumeAt := uint64(time.Now().Add(d).UnixNano())
	s.co.yieldCh <- StateSuspend(value, resumeAt)
	return <-s.co.resumeCh
}

// UntilWith parks the coroutine until the absolute unix-nano deadline ts.
// ResumeExternal means "until externally resumed".
func (s *Suspender) UntilWith(value any, ts uint64) any {
	s.co.yieldCh <- StateSuspend(value, ts)
	return <-s.co.resumeCh
}

// SystemCallWait parks the coroutine in a SystemCall state at the given
// phase, for use by package syscallchain's adapters.
func (s *Suspender) SystemCallWait(kind string, phase SyscallPhase, value any) any {
	s.co.yieldCh <- StateSystemCall(value, kind, phase)
	return <-s.co.resumeCh
}

// Cancel marks the coroutine Cancelled and never returns to the caller,
// per spec.md §4.E/§9: cancellation cannot simply return from cancel(),
// so it is modeled as a sentinel panic caught only by the coroutine's
// own run wrapper.
func (s *Suspender) Cancel() {
	panic(cancelSentinel{})
}
