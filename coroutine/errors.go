package coroutine

import "errors"

// The error kinds from spec.md §7, each a concrete type composable with
// errors.Is/errors.As. The package-level vars are canonical sentinels:
// errors.Is matches any instance of a kind against its sentinel (and
// vice versa), so callers may wrap either a sentinel or a populated
// instance and comparisons keep working. WouldBlock/EINTR are
// internal-only signals consumed by the syscall chain and are not
// expected to surface past package syscallchain.
var (
	ErrInvalidArgument error = &InvalidArgumentError{}
	ErrTimeout         error = &TimeoutError{}
	ErrWouldBlock      error = &WouldBlockError{}
	ErrCancelled       error = &CancelledError{}
	ErrStateTransition error = &StateTransitionError{}
)

// InvalidArgumentError reports a caller-supplied value the runtime
// rejected before doing any work: an empty name, a negative timespec,
// a non-positive pool size.
type InvalidArgumentError struct {
	Cause   error
	Message string
}

func (e *InvalidArgumentError) Error() string {
	if e.Message == "" {
		return "coroutine: invalid argument"
	}
	return "coroutine: invalid argument: " + e.Message
}

func (e *InvalidArgumentError) Unwrap() error { return e.Cause }

func (e *InvalidArgumentError) Is(target error) bool {
	var t *InvalidArgumentError
	return errors.As(target, &t)
}

// TimeoutError reports a deadline that elapsed before completion,
// distinct from a partial result.
type TimeoutError struct {
	Cause   error
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "coroutine: timeout"
	}
	return "coroutine: timeout: " + e.Message
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

func (e *TimeoutError) Is(target error) bool {
	var t *TimeoutError
	return errors.As(target, &t)
}

// WouldBlockError marks a transient would-block/in-progress condition
// the syscall chain loops or waits on.
type WouldBlockError struct {
	Cause error
}

func (e *WouldBlockError) Error() string { return "coroutine: would block" }

func (e *WouldBlockError) Unwrap() error { return e.Cause }

func (e *WouldBlockError) Is(target error) bool {
	var t *WouldBlockError
	return errors.As(target, &t)
}

// CancelledError marks a coroutine cancelled via its suspender.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string { return "coroutine: cancelled" }

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Is(target error) bool {
	var t *CancelledError
	return errors.As(target, &t)
}

// StateTransitionError reports an attempted illegal state change, an
// internal bug per spec.md §7; it is logged and returned, never
// panicked on.
type StateTransitionError struct {
	From, To string
}

func (e *StateTransitionError) Error() string {
	if e.From == "" && e.To == "" {
		return "coroutine: illegal state transition"
	}
	return "coroutine: illegal state transition: " + e.From + " -> " + e.To
}

func (e *StateTransitionError) Is(target error) bool {
	var t *StateTransitionError
	return errors.As(target, &t)
}

// PanicError wraps a recovered panic from user code, carrying the
// extracted message per spec.md §7's Panic(message) kind.
type PanicError struct {
	Message string
}

func (e *PanicError) Error() string { return "coroutine: panic: " + e.Message }

// SyscallError wraps an underlying OS errno, passed through unchanged
// per spec.md §7 ("never swallowed").
type SyscallError struct {
	Op  string
	Err error
}

func (e *SyscallError) Error() string { return "coroutine: syscall " + e.Op + ": " + e.Err.Error() }

func (e *SyscallError) Unwrap() error { return e.Err }

func recoverMessage(r any) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return "coroutine: non-string panic value"
	}
}
