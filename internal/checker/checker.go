// Package checker implements the access checker: the "is any covering
// word poisoned?" predicate every bulk read/write passes through
// before touching memory.
package checker

import (
	"github.com/rezzan-go/rezzan/internal/token"
)

// View is the minimal memory-inspection surface the checker needs.
// internal/arena.Arena implements it.
type View interface {
	// SlotAt returns the poison slot for the 8-byte-aligned word at
	// byte offset off from the arena base.
	SlotAt(off uintptr) *token.Slot
	// Mapped reports whether the word at byte offset off is backed by
	// accessible memory (as opposed to past the arena's current
	// high-water mark, or past the end of the reservation).
	Mapped(off uintptr) bool
}

// Violation describes a detected safety violation. Checker.Check calls
// trap with one of these rather than returning a value: the trap
// function is expected to terminate, not to resume the caller.
type Violation struct {
	Kind   string // e.g. "heap-buffer-overflow"
	Offset uintptr
	Detail string
}

// Config carries the nonce values and mode needed to test tokens.
// Exactly one of Nonce64/Nonce61 is meaningful, selected by Mode61.
type Config struct {
	Mode61  bool
	Nonce64 uint64
	Nonce61 uint64
}

func (c Config) poisoned(s *token.Slot) bool {
	if c.Mode61 {
		return token.Test61(s, c.Nonce61)
	}
	return token.Test64(s, c.Nonce64)
}

// Checker verifies byte ranges against the poison pattern.
type Checker struct {
	cfg  Config
	view View
	trap func(Violation)
}

// New builds a Checker. trap is invoked (and must not return — it
// should panic or exit) on the first poisoned word found.
func New(cfg Config, view View, trap func(Violation)) *Checker {
	return &Checker{cfg: cfg, view: view, trap: trap}
}

// Check verifies that every 8-byte word overlapping [off, off+n) is
// not poisoned. It is called before any bulk read or
// write; on the first violation it calls the configured trap and does
// not return to the caller in the normal case (the trap function is
// expected to panic/exit the process).
func (c *Checker) Check(off, n uintptr) {
	if n == 0 {
		return
	}

	wordBase := off &^ 7
	end := off + n
	frontDelta := off - wordBase
	wordCount := (n + frontDelta + 7) / 8

	for i := uintptr(0); i < wordCount; i++ {
		wordOff := wordBase + i*8
		if c.cfg.poisoned(c.view.SlotAt(wordOff)) {
			c.trap(Violation{
				Kind:   "poisoned-word",
				Offset: wordOff,
				Detail: "access touches a poisoned (redzone or quarantined) word",
			})
			return
		}
	}

	if !c.cfg.Mode61 {
		return
	}

	endDelta := end & 7
	if endDelta == 0 {
		return
	}

	nextWordOff := (end &^ 7) + 8
	if !c.view.Mapped(nextWordOff) {
		return
	}

	slot := c.view.SlotAt(nextWordOff)
	if !token.Test61(slot, c.cfg.Nonce61) {
		return
	}
	b := token.Boundary61(slot)
	if b != 0 && uintptr(b) < endDelta {
		c.trap(Violation{
			Kind:   "heap-buffer-overflow",
			Offset: end,
			Detail: "access crosses the byte-accurate trailing boundary",
		})
	}
}
