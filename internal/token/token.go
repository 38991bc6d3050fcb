// Package token implements the poison-word primitives: encoding,
// decoding and zeroing of the 8-byte tokens that mark redzone words.
//
// Ordinary arithmetic over a *uint64 is enough to get the needed
// semantics; this package never shells out to asm.
package token

import "unsafe"

// Slot is a single 8-byte, 8-byte-aligned poison word.
type Slot struct {
	v uint64
}

// SlotAt reinterprets the 8 bytes at p as a Slot. p must be 8-byte aligned.
func SlotAt(p unsafe.Pointer) *Slot {
	return (*Slot)(p)
}

// Load reads the raw 64-bit word with a single, non-torn load.
func (s *Slot) Load() uint64 { return s.v }

// boundaryMask isolates the low 3 bits that carry the 61-bit mode's
// boundary field.
const boundaryMask = 0x7

// Set64 stores the 64-bit mode token: the two's-complement negation of
// the nonce, via one 8-byte store.
func Set64(s *Slot, nonce uint64) {
	s.v = -nonce
}

// Set61 stores the 61-bit mode token: ((-nonce) & ^7) XOR boundary.
// boundary must be in [0,7]; 0 means "8 bytes live" (a full word).
func Set61(s *Slot, nonce uint64, boundary uint8) {
	s.v = (-nonce &^ boundaryMask) ^ uint64(boundary&boundaryMask)
}

// Zero stores the plain-zero non-token value, marking the word as
// ordinary (non-poisoned) payload.
func Zero(s *Slot) {
	s.v = 0
}

// Test64 reports whether s holds a valid 64-bit mode token: true iff
// slot+nonce == 0. Framed as an add-and-compare-to-zero rather than an
// equality against a known constant: branch-free and resistant to an
// attacker who can only guess values, not read memory.
func Test64(s *Slot, nonce uint64) bool {
	return s.v+nonce == 0
}

// Test61 reports whether s holds a valid 61-bit mode token, ignoring
// the boundary field: true iff (slot & ^7) + nonce == 0.
func Test61(s *Slot, nonce uint64) bool {
	return (s.v &^ boundaryMask) + nonce == 0
}

// Boundary61 extracts the boundary field of a slot that Test61 has
// already confirmed holds a valid 61-bit mode token. Returned value is
// in [0,7]; 0 means the preceding word is entirely live payload.
func Boundary61(s *Slot) uint8 {
	return uint8(s.v & boundaryMask)
}
