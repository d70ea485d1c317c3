// Package stack implements the page-aligned, optionally guard-protected
// coroutine stack allocator described in spec.md §4.A.
//
// Grounded on the teacher eventloop package's use of golang.org/x/sys/unix
// for low-level OS interaction (poller_linux.go, wakeup_linux.go); the
// guard-page technique itself follows base-coroutine/src/stack/sys/unix.rs
// and windows.rs in original_source, which mmap a region and mprotect its
// lowest page to PROT_NONE so a stack overflow raises SIGSEGV/a guard-page
// fault instead of silently corrupting adjacent memory.
package stack

import "fmt"

// MinStackSize is one page; Config.StackSize is clamped to at least this.
const MinStackSize = 4096

// DefaultRedZone and DefaultGrowStackSize are the thresholds
// Coroutine.MaybeGrow (package coroutine) falls back to when a caller
// doesn't specify its own, mirroring original_source's
// core::common::default_red_zone (16KiB + one page on Unix; this
// runtime does not distinguish Windows sizing) and
// core::common::constants::DEFAULT_STACK_SIZE.
const (
	DefaultRedZone       = 16*1024 + MinStackSize
	DefaultGrowStackSize = 128 * 1024
)

// Stack is a page-aligned region of memory usable as a coroutine's stack.
type Stack interface {
	// Top returns the address nearest the stack's growth direction (the
	// end a new frame is pushed toward).
	Top() uintptr
	// Bottom returns the address of the lowest usable byte (above the
	// guard page, if one was requested).
	Bottom() uintptr
	// Len returns the usable length in bytes (excludes the guard page).
	Len() int
	// Release returns the backing memory to the OS (or the pool it came
	// from). Must be called exactly once, after the owning coroutine
	// reaches a terminal state.
	Release() error
}

// Options configure stack allocation.
type Options struct {
	// Size is the usable stack size in bytes; clamped to MinStackSize and
	// to the process stack rlimit on Unix.
	Size int
	// Guard requests a protected, inaccessible page immediately below the
	// usable region, turning overflow into a fault rather than silent
	// corruption.
	Guard bool
}

// clampSize applies spec.md §4.A's clamping rule: at least one page, and
// capped by platformMaxStackSize (the process stack rlimit on Unix, or a
// fixed ceiling on platforms without an equivalent knob).
func clampSize(size int) int {
	if size < MinStackSize {
		size = MinStackSize
	}
	if max := platformMaxStackSize(); max > 0 && size > max {
		size = max
	}
	// round up to a page multiple
	if rem := size % MinStackSize; rem != 0 {
		size += MinStackSize - rem
	}
	return size
}

// Allocate reserves a new stack per opts.
func Allocate(opts Options) (Stack, error) {
	size := clampSize(opts.Size)
	s, err := platformAllocate(size, opts.Guard)
	if err != nil {
		return nil, fmt.Errorf("stack: allocate %d bytes (guard=%v): %w", size, opts.Guard, err)
	}
	return s, nil
}
