// Package intercept implements instrumented replacements for the
// common bulk/string routines: each checks every touched word against
// the poison pattern before performing the logical operation with a
// loop that never re-enters the allocator.
//
// Preload-based symbol replacement has no Go equivalent (Go binaries
// are statically linked, not LD_PRELOADable), so these are ordinary
// exported functions operating on unsafe.Pointer/uintptr, taking the
// owning *rezzan.Sanitizer explicitly rather than through a
// process-wide global.
package intercept

import (
	"fmt"
	"unsafe"

	"github.com/rezzan-go/rezzan"
)

// Memcpy implements the memcpy: checks both ranges, then
// copies byte-by-byte. Overlapping ranges are undefined behavior, as
// in C; callers with potentially-overlapping ranges should use Memmove.
func Memcpy(s *rezzan.Sanitizer, dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	s.Check(dst, n)
	s.Check(src, n)
	d := unsafe.Slice((*byte)(dst), n)
	srcSlice := unsafe.Slice((*byte)(src), n)
	for i := uintptr(0); i < n; i++ {
		d[i] = srcSlice[i]
	}
}

// Memmove implements the memmove: the copy direction is
// chosen from the relative addresses of dst and src so that
// overlapping ranges are preserved correctly, matching memmove's
// contract.
func Memmove(s *rezzan.Sanitizer, dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	s.Check(dst, n)
	s.Check(src, n)
	d := unsafe.Slice((*byte)(dst), n)
	srcSlice := unsafe.Slice((*byte)(src), n)
	if uintptr(dst) < uintptr(src) {
		for i := uintptr(0); i < n; i++ {
			d[i] = srcSlice[i]
		}
		return
	}
	for i := n; i > 0; i-- {
		d[i-1] = srcSlice[i-1]
	}
}

// strlenGuard is the explicit first-word guard strlen/strnlen need:
// they trap immediately if the word containing
// the first byte is already poisoned, catching a freed or
// never-initialized pointer whose first byte happens to be non-NUL.
func strlenGuard(s *rezzan.Sanitizer, p unsafe.Pointer) {
	s.Check(p, 1)
}

// Strlen implements the strlen: word-at-a-time would
// require reading past string length up front, which this
// byte-oriented implementation avoids by checking one word ahead of
// the scan position as it advances.
func Strlen(s *rezzan.Sanitizer, p unsafe.Pointer) uintptr {
	strlenGuard(s, p)
	var n uintptr
	for {
		if n%8 == 0 {
			s.Check(unsafe.Add(p, n), 8)
		}
		if *(*byte)(unsafe.Add(p, n)) == 0 {
			return n
		}
		n++
	}
}

// Strnlen implements the strnlen: like Strlen but bounded
// by maxLen.
func Strnlen(s *rezzan.Sanitizer, p unsafe.Pointer, maxLen uintptr) uintptr {
	strlenGuard(s, p)
	var n uintptr
	for n < maxLen {
		if n%8 == 0 {
			checkLen := uintptr(8)
			if maxLen-n < 8 {
				checkLen = maxLen - n
			}
			s.Check(unsafe.Add(p, n), checkLen)
		}
		if *(*byte)(unsafe.Add(p, n)) == 0 {
			return n
		}
		n++
	}
	return maxLen
}

// Strcpy implements the strcpy: copies src (including its
// NUL terminator) into dst, checking dst for the same length.
func Strcpy(s *rezzan.Sanitizer, dst, src unsafe.Pointer) {
	n := Strlen(s, src) + 1
	s.Check(dst, n)
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}

// Strncat implements the strncat: appends at most n bytes
// of src to dst, then NUL-terminates.
func Strncat(s *rezzan.Sanitizer, dst, src unsafe.Pointer, n uintptr) {
	dstLen := Strlen(s, dst)
	srcLen := Strnlen(s, src, n)
	s.Check(unsafe.Add(dst, dstLen), srcLen+1)
	copy(unsafe.Slice((*byte)(unsafe.Add(dst, dstLen)), srcLen), unsafe.Slice((*byte)(src), srcLen))
	*(*byte)(unsafe.Add(dst, dstLen+srcLen)) = 0
}

// Strcat implements the strcat: appends all of src
// (including its NUL terminator) to dst.
func Strcat(s *rezzan.Sanitizer, dst, src unsafe.Pointer) {
	srcLen := Strlen(s, src)
	Strncat(s, dst, src, srcLen)
}

// Strncpy implements the strncpy: copies at most n bytes of
// src into dst, NUL-padding dst if src is shorter than n (C's
// strncpy contract, not Go's).
func Strncpy(s *rezzan.Sanitizer, dst, src unsafe.Pointer, n uintptr) {
	s.Check(dst, n)
	srcLen := Strnlen(s, src, n)
	d := unsafe.Slice((*byte)(dst), n)
	if srcLen > 0 {
		copy(d[:srcLen], unsafe.Slice((*byte)(src), srcLen))
	}
	for i := srcLen; i < n; i++ {
		d[i] = 0
	}
}

// wordSize is the width of one "wide character" as the
// wmemcpy/wcslen/wcscpy family assumes (wchar_t is 4 bytes on every
// POSIX platform; Windows, where it is 2 bytes, is not supported).
const wordSize = 4

// Wmemcpy implements the wmemcpy: copies n wide characters.
func Wmemcpy(s *rezzan.Sanitizer, dst, src unsafe.Pointer, n uintptr) {
	Memcpy(s, dst, src, n*wordSize)
}

// Wcslen implements the wcslen: scans wordSize-byte units
// for a zero wide character.
func Wcslen(s *rezzan.Sanitizer, p unsafe.Pointer) uintptr {
	strlenGuard(s, p)
	var n uintptr
	for {
		off := n * wordSize
		if off%8 == 0 {
			s.Check(unsafe.Add(p, off), 8)
		}
		if *(*uint32)(unsafe.Add(p, off)) == 0 {
			return n
		}
		n++
	}
}

// Wcscpy implements the wcscpy: copies src including its
// terminating zero wide character.
func Wcscpy(s *rezzan.Sanitizer, dst, src unsafe.Pointer) {
	n := (Wcslen(s, src) + 1) * wordSize
	s.Check(dst, n)
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}

// Snprintf checks only dst's bounds; the format layer itself is
// delegated to fmt.Sprintf. Returns the
// number of bytes (excluding the NUL terminator) that would have been
// written, truncating dst's contents to size-1 bytes plus a NUL.
func Snprintf(s *rezzan.Sanitizer, dst unsafe.Pointer, size uintptr, format string, args ...any) int {
	if size == 0 {
		return 0
	}
	s.Check(dst, size)
	rendered := fmt.Sprintf(format, args...)
	d := unsafe.Slice((*byte)(dst), size)
	n := copy(d[:size-1], rendered)
	d[n] = 0
	return len(rendered)
}

// Printf is the opt-in interceptor,
// active only when REZZAN_PRINTF is set: it checks every unsafe.Pointer
// argument as a NUL-terminated string before delegating to fmt.Printf.
// The format verbs are not inspected. Whether checking is active
// is the caller's responsibility (internal/config.Options.Printf).
func Printf(s *rezzan.Sanitizer, checkStrings bool, format string, args ...any) (int, error) {
	if checkStrings {
		for _, a := range args {
			if p, ok := a.(unsafe.Pointer); ok {
				s.Check(p, Strlen(s, p)+1)
			}
		}
	}
	return fmt.Printf(format, args...)
}
