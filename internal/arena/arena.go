// Package arena implements the fixed-address pool that all instrumented
// allocations are carved from. It never recycles memory — that is
// internal/quarantine's job — it only ever grows.
//
// A large address range is reserved up front, PROT_NONE, then the
// *accessible* prefix of that reservation grows on demand as Carve
// needs more room, tracked by a single bump pointer and a high-water
// mark, using golang.org/x/sys/unix through internal/sysmem.
package arena

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rezzan-go/rezzan/internal/sysmem"
	"github.com/rezzan-go/rezzan/internal/token"
)

// UnitSize is the size in bytes of one allocation unit: two 8-byte
// tokens.
const UnitSize = 16

// baseAddr is the fixed address the arena is reserved at. Chosen away
// from internal/noncepage's fixedAddr so the two mappings never
// collide.
const baseAddr = 0x0000_4000_0000_0000

// growthChunkBytes is the minimum growth increment: each time the
// arena needs to grow, it grows by at least this many bytes, rounded
// up to a page multiple.
const growthChunkBytes = 32 * 1024

// ErrOutOfMemory is returned by Carve when the pool is exhausted. This
// is fatal to the caller (the allocator façade); Carve itself just
// reports it.
var ErrOutOfMemory = errors.New("arena: out of memory")

// Arena is the fixed-address pool. It is not safe for concurrent use;
// callers serialize access with their own lock (the façade keeps the
// arena pointers under its single allocator-wide lock).
type Arena struct {
	mem        []byte // full PROT_NONE reservation, length poolUnits*UnitSize
	mappedUpto uintptr
	bump       uintptr
	populate   bool

	// bytesCarved is a running total consumed by internal/stats.
	bytesCarved uint64
}

// New reserves poolUnits*UnitSize bytes of address space at a fixed
// base, unmapped (PROT_NONE) until Carve grows into it. populate
// mirrors REZZAN_POPULATE: when true, newly grown pages are pre-faulted.
func New(poolUnits uint64, populate bool) (*Arena, error) {
	poolBytes := uintptr(poolUnits) * UnitSize
	mem, err := sysmem.MapFixed(baseAddr, poolBytes, unix.PROT_NONE)
	if err != nil {
		return nil, fmt.Errorf("arena: reserve %d units: %w", poolUnits, err)
	}
	return &Arena{mem: mem, populate: populate}, nil
}

// Base returns the fixed address of unit offset 0.
func (a *Arena) Base() uintptr { return baseAddr }

// Bump returns the current bump pointer, as a byte offset from Base.
func (a *Arena) Bump() uintptr { return a.bump }

// BytesCarved returns the running total of bytes ever returned by Carve.
func (a *Arena) BytesCarved() uint64 { return a.bytesCarved }

// Contains reports whether addr lies within the arena's reservation.
// It needs no lock since these bounds are fixed at construction.
func (a *Arena) Contains(addr uintptr) bool {
	return addr >= baseAddr && addr < baseAddr+uintptr(len(a.mem))
}

// Bytes returns a slice view of length n starting at byte offset off
// from Base. off+n must not exceed the mapped (accessible) prefix.
func (a *Arena) Bytes(off uintptr, n uintptr) []byte {
	return a.mem[off : off+n]
}

// SlotAt implements internal/checker.View: the poison slot for the
// 8-byte-aligned word at byte offset off.
func (a *Arena) SlotAt(off uintptr) *token.Slot {
	return token.SlotAt(unsafe.Pointer(&a.mem[off]))
}

// Mapped implements internal/checker.View: whether the word at offset
// off is within the currently-accessible (grown) prefix of the
// reservation.
func (a *Arena) Mapped(off uintptr) bool {
	return off+8 <= a.mappedUpto
}

// Carve hands out unitCount contiguous, never-before-used units,
// growing the backing mapping if necessary. It never returns recycled
// memory. Returns the unit offset (from Base) of the new capsule.
func (a *Arena) Carve(unitCount uint64) (uint64, error) {
	need := uintptr(unitCount) * UnitSize
	if a.bump+need > uintptr(len(a.mem)) {
		return 0, ErrOutOfMemory
	}

	if a.bump+need > a.mappedUpto {
		newMappedUpto := a.mappedUpto
		for newMappedUpto < a.bump+need {
			newMappedUpto += growthChunkBytes
		}
		newMappedUpto = sysmem.RoundUpPage(newMappedUpto)
		if newMappedUpto > uintptr(len(a.mem)) {
			newMappedUpto = uintptr(len(a.mem))
		}

		grown := a.mem[a.mappedUpto:newMappedUpto]
		if err := sysmem.Protect(grown, unix.PROT_READ|unix.PROT_WRITE); err != nil {
			return 0, fmt.Errorf("arena: grow to %d bytes: %w", newMappedUpto, err)
		}
		if a.populate {
			prefault(grown)
		}
		a.mappedUpto = newMappedUpto
	}

	baseOffset := a.bump
	a.bump += need
	a.bytesCarved += uint64(need)
	return uint64(baseOffset) / UnitSize, nil
}

// PointerOf converts a unit offset into an absolute address.
func (a *Arena) PointerOf(offsetUnits uint64) uintptr {
	return baseAddr + uintptr(offsetUnits)*UnitSize
}

// OffsetOf converts an absolute address back into a unit offset. The
// caller must have already confirmed addr is within the arena
// (Contains) and unit-aligned.
func (a *Arena) OffsetOf(addr uintptr) uint64 {
	return uint64(addr-baseAddr) / UnitSize
}

// prefault touches one byte per page to force the kernel to back it
// immediately, approximating MAP_POPULATE for a region whose
// protection (rather than mapping) just changed.
func prefault(mem []byte) {
	for i := 0; i < len(mem); i += sysmem.PageSize {
		mem[i] = 0
	}
}
