package coroutine

import "fmt"

// Kind identifies which variant of State is populated. Go has no tagged
// unions, so State carries Kind plus the fields relevant to that kind,
// grounded on the teacher's state.go pattern of an explicit numeric state
// plus an fdInfo-style payload struct.
type Kind int

const (
	Ready Kind = iota
	Running
	Suspend
	SystemCall
	Complete
	Cancelled
	Error
)

func (k Kind) String() string {
	switch k {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Suspend:
		return "Suspend"
	case SystemCall:
		return "SystemCall"
	case Complete:
		return "Complete"
	case Cancelled:
		return "Cancelled"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// SyscallPhase is the nested state carried by a SystemCall, per spec.md
// §3's syscall_state ∈ {Executing, Suspend(ts), Timeout, Callback}.
type SyscallPhase int

const (
	Executing SyscallPhase = iota
	SyscallSuspend
	Timeout
	Callback
)

// ResumeImmediately and ResumeExternal are the two sentinel
// resume-timestamp values named in spec.md §3: 0 means "immediately on
// next pass", MaxUint64 means "until externally resumed".
const (
	ResumeImmediately uint64 = 0
	ResumeExternal    uint64 = ^uint64(0)
)

// State is the coroutine's current state. Only the fields relevant to
// Kind are meaningful; this mirrors the tagged-sum in spec.md §3 without
// Go having sum types.
type State struct {
	Kind Kind

	// Suspend
	YieldValue     any
	ResumeAt       uint64

	// SystemCall
	SyscallKind  string
	SyscallPhase SyscallPhase

	// Complete
	ReturnValue any

	// Error
	Message string
}

func StateReady() State { return State{Kind: Ready} }

func StateRunning() State { return State{Kind: Running} }

func StateSuspend(yield any, resumeAt uint64) State {
	return State{Kind: Suspend, YieldValue: yield, ResumeAt: resumeAt}
}

func StateSystemCall(yield any, syscallKind string, phase SyscallPhase) State {
	return State{Kind: SystemCall, YieldValue: yield, SyscallKind: syscallKind, SyscallPhase: phase}
}

func StateComplete(ret any) State { return State{Kind: Complete, ReturnValue: ret} }

func StateCancelled() State { return State{Kind: Cancelled} }

func StateError(message string) State { return State{Kind: Error, Message: message} }

// Terminal reports whether the state is one of Complete, Cancelled, or
// Error -- the states after which the stack may be released, per
// spec.md §3.
func (s State) Terminal() bool {
	switch s.Kind {
	case Complete, Cancelled, Error:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is legal per the
// literal transition graph in spec.md §3 (including the two-step
// Suspend/SystemCall → Ready → Running path). Coroutine.Resume consults
// the looser Resumable below instead, since the scheduler never
// materializes the intermediate Ready state explicitly; CanTransitionTo
// is kept as the documented reference graph and for any future caller
// that does walk the graph step by step.
func (s State) CanTransitionTo(next State) bool {
	switch s.Kind {
	case Ready:
		return next.Kind == Running
	case Running:
		switch next.Kind {
		case Suspend, Complete, Cancelled, Error:
			return true
		case SystemCall:
			return next.SyscallPhase == Executing
		default:
			return false
		}
	case Suspend:
		return next.Kind == Ready
	case SystemCall:
		switch s.SyscallPhase {
		case Executing:
			return next.Kind == SystemCall && next.SyscallPhase != Executing
		case SyscallSuspend, Timeout, Callback:
			return next.Kind == Running
		default:
			return false
		}
	default:
		// Complete, Cancelled, Error are terminal.
		return false
	}
}

// Resumable reports whether Coroutine.Resume may be called against a
// coroutine currently in state s, per spec.md §4.E's precondition list:
// "state is Ready, Suspend, or SystemCall" (terminal states short-circuit
// before this is even consulted), except that a SystemCall still in its
// Executing phase is not resumable. This is deliberately looser than
// CanTransitionTo(Running): spec.md §3 models resuming a Suspend as the
// two-step "Suspend → Ready" then "Ready → Running", but the scheduler
// never materializes the intermediate Ready state on the coroutine
// itself (it only requeues the coroutine for another Resume call), so
// the direct Suspend/SystemCall → Running edge is the one Resume must
// accept.
func (s State) Resumable() bool {
	switch s.Kind {
	case Ready, Suspend:
		return true
	case SystemCall:
		return s.SyscallPhase != Executing
	default:
		return false
	}
}
