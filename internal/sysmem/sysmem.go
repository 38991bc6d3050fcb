// Package sysmem wraps the handful of raw mmap/mprotect/getrandom
// syscalls the allocator needs at fixed addresses. golang.org/x/sys/unix's
// portable unix.Mmap helper does not accept a requested address (it
// always lets the kernel choose), so fixed-address placement of the
// nonce page, arena and node pool goes through the raw syscall
// wrappers unix.Syscall6 exposes instead.
//
package sysmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapFixed maps length bytes at the exact address addr (MAP_FIXED),
// anonymous and private, with the requested protection. addr and
// length must both be page-multiples.
func MapFixed(addr, length uintptr, prot int) ([]byte, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		length,
		uintptr(prot),
		uintptr(unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_FIXED),
		^uintptr(0), // fd = -1
		0,
	)
	if errno != 0 {
		return nil, fmt.Errorf("mmap fixed %#x/%#x: %w", addr, length, errno)
	}
	if r1 != addr {
		// Should not happen with MAP_FIXED (it either gets the exact
		// address or fails), but double check: a silent remap would
		// violate the "fixed, well-known virtual address" invariant.
		return nil, fmt.Errorf("mmap fixed %#x: kernel returned %#x instead", addr, r1)
	}
	return unsafeByteSlice(r1, length), nil
}

// Protect changes the protection of an existing mapping in place.
func Protect(mem []byte, prot int) error {
	return unix.Mprotect(mem, prot)
}

// Unmap releases a mapping obtained from MapFixed.
func Unmap(mem []byte) error {
	return unix.Munmap(mem)
}

// GetRandom fills buf from the OS entropy source.
func GetRandom(buf []byte) error {
	n, err := unix.Getrandom(buf, 0)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("getrandom: short read %d/%d bytes", n, len(buf))
	}
	return nil
}

// PageSize is the page granularity all arena/nonce-page growth is
// rounded to.
const PageSize = 4096

// RoundUpPage rounds n up to the next multiple of PageSize.
func RoundUpPage(n uintptr) uintptr {
	return (n + PageSize - 1) &^ (PageSize - 1)
}

func unsafeByteSlice(addr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}
