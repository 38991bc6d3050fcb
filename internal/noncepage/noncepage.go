// Package noncepage manages the one read-only page holding the
// process-lifetime nonce.
//
// The page is mapped at a fixed, well-known address using
// golang.org/x/sys/unix (via internal/sysmem). Token code does not load
// the nonce from that address: it uses the copies Page keeps in its
// fields (Nonce64, Nonce61).
package noncepage

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/rezzan-go/rezzan/internal/sysmem"
)

// fixedAddr is the well-known virtual address the nonce page is mapped
// at. Chosen far from typical heap/mmap/stack placement and away from
// the arena's own fixed base (internal/arena picks its own region) so
// the two mappings never collide.
const fixedAddr = 0x0000_3000_0000_0000

// Page is the mapped nonce page. Once constructed it is immutable: the
// mapping is made PROT_READ and never unmapped for the life of the
// process.
type Page struct {
	nonce   uint64
	nonce61 uint64 // nonce with low 3 bits forced to zero, for 61-bit mode
	mem     []byte
}

// New maps the nonce page, fills it from the OS random source, and
// makes it read-only. Failure to map or to read entropy is fatal to
// startup.
func New() (*Page, error) {
	mem, err := sysmem.MapFixed(fixedAddr, sysmem.PageSize, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return nil, fmt.Errorf("noncepage: %w", err)
	}

	var buf [8]byte
	if err := sysmem.GetRandom(buf[:]); err != nil {
		_ = sysmem.Unmap(mem)
		return nil, fmt.Errorf("noncepage: read entropy: %w", err)
	}

	nonce := binary.LittleEndian.Uint64(buf[:])
	// A nonce that is zero above its low three bits would make the zero
	// word (uninitialized/ordinary memory) indistinguishable from a
	// valid token (in 61-bit mode for any such draw, in 64-bit mode for
	// zero itself), so guard against the degenerate draws.
	if nonce&^0x7 == 0 {
		nonce |= 0x8
	}

	binary.LittleEndian.PutUint64(mem[:8], nonce)

	if err := sysmem.Protect(mem, unix.PROT_READ); err != nil {
		_ = sysmem.Unmap(mem)
		return nil, fmt.Errorf("noncepage: mprotect read-only: %w", err)
	}

	return &Page{
		nonce:   nonce,
		nonce61: nonce &^ 0x7,
		mem:     mem,
	}, nil
}

// Nonce64 returns the raw process nonce, for 64-bit mode tokens.
func (p *Page) Nonce64() uint64 { return p.nonce }

// Nonce61 returns the nonce with its low 3 bits forced to zero, so
// that a zero boundary field in a 61-bit mode token is valid.
func (p *Page) Nonce61() uint64 { return p.nonce61 }

// Close unmaps the page. Only ever called by tests: in a real process
// the page lives for the process lifetime.
func (p *Page) Close() error {
	return sysmem.Unmap(p.mem)
}
