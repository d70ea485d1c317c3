package coroutine

import (
	"fmt"

	"github.com/joeycumines/open-coroutine-go/stack"
)

// MaybeGrow implements spec.md §4.E "maybe_grow" / §6's
// "maybe_grow_stack(red_zone, stack_size, fn, param)": before running fn
// it checks the coroutine's remaining stack budget, and temporarily
// swaps in a freshly allocated, larger Stack for the duration of fn if
// fewer than redZone bytes remain. redZone and newStackSize fall back to
// stack.DefaultRedZone/stack.DefaultGrowStackSize when non-positive.
// pool, if non-nil, is used to obtain and return the grown stack instead
// of going straight to stack.Allocate/Release; the grown stack then has
// the pool's configured size and newStackSize is not used (package stack's Pool,
// grounded on original_source's memory_pool.rs, exists for exactly this:
// short-lived growth allocations that would otherwise pay a fresh
// mmap/munmap round trip every time).
//
// Go goroutine stacks already grow and shrink automatically at the
// runtime level, and there is no supported way to read a goroutine's
// real stack pointer the way original_source's maybe_grow_with reads
// psm::stack_pointer() -- see this package's "stackful" doc-comment note
// for the same limitation applied to resume/yield. MaybeGrow's
// accounting is therefore against a logical byte budget rather than
// actual memory pressure: frameSize is the caller's own declared
// per-call stack cost (spec.md's literal scenario: "each frame ~10
// KiB"), accumulated across nested MaybeGrow calls and compared against
// redZone exactly as spec.md describes. This keeps the guard-page-backed
// allocator (package stack) genuinely exercised by deep recursion, even
// though Go's own execution stack underneath never comes close to
// overflowing.
func (co *Coroutine) MaybeGrow(pool *stack.Pool, redZone, newStackSize, frameSize int, fn func(param any) any, param any) (any, error) {
	if redZone <= 0 {
		redZone = stack.DefaultRedZone
	}
	if newStackSize <= 0 {
		newStackSize = stack.DefaultGrowStackSize
	}

	remaining := co.Stack.Len() - co.stackUsed
	if remaining >= redZone {
		co.stackUsed += frameSize
		defer func() { co.stackUsed -= frameSize }()
		return fn(param), nil
	}

	grown, err := growStack(pool, newStackSize)
	if err != nil {
		return nil, fmt.Errorf("coroutine: maybe_grow: %w", err)
	}

	prevStack, prevUsed := co.Stack, co.stackUsed
	co.Stack = grown
	co.stackUsed = frameSize
	defer func() {
		releaseStack(pool, grown)
		co.Stack = prevStack
		co.stackUsed = prevUsed
	}()

	return fn(param), nil
}

func growStack(pool *stack.Pool, size int) (stack.Stack, error) {
	if pool != nil {
		return pool.Get()
	}
	return stack.Allocate(stack.Options{Size: size, Guard: true})
}

func releaseStack(pool *stack.Pool, s stack.Stack) {
	if pool != nil {
		pool.Put(s)
		return
	}
	_ = s.Release()
}

// MaybeGrow is the Suspender-facing entry point for MaybeGrow, since an
// EntryFunc only ever holds a *Suspender, never the *Coroutine itself
// (spec.md §4.F).
func (s *Suspender) MaybeGrow(pool *stack.Pool, redZone, newStackSize, frameSize int, fn func(param any) any, param any) (any, error) {
	return s.co.MaybeGrow(pool, redZone, newStackSize, frameSize, fn, param)
}
