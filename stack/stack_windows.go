//go:build windows

package stack

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// platformMaxStackSize has no direct rlimit equivalent on Windows; the
// thread stack reserve is set at thread creation time, not queryable the
// way RLIMIT_STACK is on Unix, so this returns 0 (no clamp).
func platformMaxStackSize() int { return 0 }

type windowsStack struct {
	base    uintptr
	total   int
	guardSz int
	usable  []byte
}

func platformAllocate(size int, guard bool) (Stack, error) {
	total := size
	guardSz := 0
	if guard {
		guardSz = MinStackSize
		total += guardSz
	}
	addr, err := windows.VirtualAlloc(0, uintptr(total), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("VirtualAlloc: %w", err)
	}
	if guard {
		var old uint32
		if err := windows.VirtualProtect(addr, uintptr(guardSz), windows.PAGE_NOACCESS, &old); err != nil {
			_ = windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
			return nil, fmt.Errorf("VirtualProtect guard page: %w", err)
		}
	}
	usable := unsafe.Slice((*byte)(unsafe.Pointer(addr+uintptr(guardSz))), size)
	return &windowsStack{base: addr, total: total, guardSz: guardSz, usable: usable}, nil
}

func (s *windowsStack) Bottom() uintptr { return s.base + uintptr(s.guardSz) }

func (s *windowsStack) Top() uintptr { return s.Bottom() + uintptr(len(s.usable)) }

func (s *windowsStack) Len() int { return len(s.usable) }

func (s *windowsStack) Release() error {
	if s.base == 0 {
		return nil
	}
	err := windows.VirtualFree(s.base, 0, windows.MEM_RELEASE)
	s.base, s.usable = 0, nil
	return err
}
