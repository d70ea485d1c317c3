//go:build linux || darwin

package stack

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// platformMaxStackSize reads RLIMIT_STACK so Allocate can clamp to it, per
// spec.md §4.A ("max_stack_size is clamped to the process's stack rlimit on
// Unix").
func platformMaxStackSize() int {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_STACK, &rlim); err != nil {
		return 0
	}
	if rlim.Cur == unix.RLIM_INFINITY || rlim.Cur == 0 {
		return 0
	}
	return int(rlim.Cur)
}

// unixStack is an mmap'd region, with an optional PROT_NONE guard page at
// the low end (stacks grow down on every platform this runtime targets).
type unixStack struct {
	mem     []byte
	guard   bool
	usable  []byte
	guardSz int
}

func platformAllocate(size int, guard bool) (Stack, error) {
	total := size
	guardSz := 0
	if guard {
		guardSz = MinStackSize
		total += guardSz
	}
	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	if guard {
		if err := unix.Mprotect(mem[:guardSz], unix.PROT_NONE); err != nil {
			_ = unix.Munmap(mem)
			return nil, fmt.Errorf("mprotect guard page: %w", err)
		}
	}
	return &unixStack{
		mem:     mem,
		guard:   guard,
		usable:  mem[guardSz:],
		guardSz: guardSz,
	}, nil
}

func (s *unixStack) Bottom() uintptr {
	if len(s.usable) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s.usable[0]))
}

func (s *unixStack) Top() uintptr { return s.Bottom() + uintptr(len(s.usable)) }

func (s *unixStack) Len() int { return len(s.usable) }

func (s *unixStack) Release() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem, s.usable = nil, nil
	return err
}
