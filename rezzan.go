// Package rezzan is the allocator façade: the public
// allocate/release/resize/zeroed_allocate/usable_size surface wired
// over internal/arena, internal/quarantine, internal/checker, and the
// nonce page. Go binaries are statically linked, not LD_PRELOADable,
// so this package (together with package intercept) exposes the
// equivalent symbol surface as ordinary exported functions: an
// embedding program calls these directly.
package rezzan

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/pbnjay/memory"

	"github.com/rezzan-go/rezzan/internal/arena"
	"github.com/rezzan-go/rezzan/internal/checker"
	"github.com/rezzan-go/rezzan/internal/config"
	"github.com/rezzan-go/rezzan/internal/noncepage"
	"github.com/rezzan-go/rezzan/internal/obslog"
	"github.com/rezzan-go/rezzan/internal/quarantine"
	"github.com/rezzan-go/rezzan/internal/stats"
	"github.com/rezzan-go/rezzan/internal/token"
)

// SafetyViolation is the panic value raised for every detected safety
// violation: out-of-bounds access, use-after-free, double-free,
// bad-free, pointer-not-at-object-base, or arena exhaustion. Recovering
// from it is possible but not meaningful: the process's heap
// invariants are no longer trustworthy once one fires.
type SafetyViolation struct {
	Kind   string
	Addr   uintptr
	Detail string
}

func (v *SafetyViolation) Error() string {
	return fmt.Sprintf("rezzan: %s at 0x%x: %s", v.Kind, v.Addr, v.Detail)
}

// Sanitizer is the root allocator façade, wiring the
// nonce page, arena, quarantine, and access checker behind a single
// allocator-wide lock.
type Sanitizer struct {
	opts config.Options

	disabled bool

	nonce      *noncepage.Page
	arena      *arena.Arena
	quarantine *quarantine.Quarantine
	checker    *checker.Checker
	logger     *obslog.Logger
	stats      *stats.Collector

	quarantineThresholdUnits uint64

	mu sync.Mutex

	fgMu    sync.Mutex
	foreign map[uintptr][]byte
}

// New builds a Sanitizer from environ (os.Environ()'s form). A
// REZZAN_DISABLED sanitizer maps nothing and delegates every call to
// the Go runtime's own allocator via a tracked passthrough registry
// (the Go-native stand-in for "the host allocator," since this process
// has no separate libc allocator to delegate to).
func New(environ []string) (*Sanitizer, error) {
	opts, err := config.Load(environ)
	if err != nil {
		return nil, fmt.Errorf("rezzan: config: %w", err)
	}
	if err := opts.Validate(memory.TotalMemory()); err != nil {
		return nil, fmt.Errorf("rezzan: config: %w", err)
	}

	s := &Sanitizer{
		opts:    opts,
		disabled: opts.Disabled,
		logger:  obslog.New(os.Stderr, opts.Debug),
		stats:   stats.New(),
		foreign: make(map[uintptr][]byte),
	}
	if s.disabled {
		return s, nil
	}

	nonce, err := noncepage.New()
	if err != nil {
		return nil, fmt.Errorf("rezzan: %w", err)
	}
	s.nonce = nonce

	a, err := arena.New(opts.PoolUnits(), opts.Populate)
	if err != nil {
		return nil, fmt.Errorf("rezzan: %w", err)
	}
	s.arena = a

	q, err := quarantine.New()
	if err != nil {
		return nil, fmt.Errorf("rezzan: %w", err)
	}
	s.quarantine = q

	s.checker = checker.New(checker.Config{
		Mode61:  opts.NonceSize == config.Nonce61,
		Nonce64: nonce.Nonce64(),
		Nonce61: nonce.Nonce61(),
	}, a, s.trap)

	s.quarantineThresholdUnits = opts.QuarantineSize / arena.UnitSize

	if _, err := a.Carve(1); err != nil {
		return nil, fmt.Errorf("rezzan: carving sentinel capsule: %w", err)
	}
	s.writeToken(a.SlotAt(0), 0)
	s.writeToken(a.SlotAt(8), 0)

	return s, nil
}

// Close unmaps a non-disabled Sanitizer's nonce page, and, when
// REZZAN_STATS was set, first writes the on-exit stat lines to stderr.
// The arena and quarantine node-pool mappings are not unmapped.
func (s *Sanitizer) Close() error {
	if s.opts.Stats {
		var quarantinedBytes, leaked, bytesCarved uint64
		if !s.disabled {
			quarantinedBytes = s.quarantine.UsageBytes()
			leaked = s.quarantine.LeakedCapsules()
			bytesCarved = s.arena.BytesCarved()
		}
		s.stats.DumpOnExit(os.Stderr, bytesCarved, quarantinedBytes, leaked)
	}
	if s.disabled {
		return nil
	}
	return s.nonce.Close()
}

func (s *Sanitizer) writeToken(slot *token.Slot, boundary uint8) {
	if s.opts.NonceSize == config.Nonce61 {
		token.Set61(slot, s.nonce.Nonce61(), boundary)
	} else {
		token.Set64(slot, s.nonce.Nonce64())
	}
}

func (s *Sanitizer) poisoned(slot *token.Slot) bool {
	if s.opts.NonceSize == config.Nonce61 {
		return token.Test61(slot, s.nonce.Nonce61())
	}
	return token.Test64(slot, s.nonce.Nonce64())
}

func (s *Sanitizer) tokenAt(byteOff uintptr) *token.Slot { return s.arena.SlotAt(byteOff) }

func (s *Sanitizer) trap(v checker.Violation) {
	s.fail(v.Kind, s.arena.Base()+v.Offset, v.Detail)
}

// fail logs the diagnostic line and panics with a *SafetyViolation.
// Panicking unwinds normally unless recovered, which crashes the
// process with a non-zero exit code when nothing does — the behavior
// cmd/rezzanctl's selftest harness (run in a forked subprocess)
// observes.
func (s *Sanitizer) fail(kind string, addr uintptr, detail string) {
	s.logger.Fatal(kind, addr, detail)
	panic(&SafetyViolation{Kind: kind, Addr: addr, Detail: detail})
}

// unitCountFor computes the capsule size for a payload: payload plus at
// least one trailing token, rounded up to a full unit.
func unitCountFor(n uint64) uint64 {
	return (n + 8 + 15) / 16
}

// Allocate carves or reuses a capsule large enough to hold n payload
// bytes plus its trailing poisoned tokens, and returns a pointer to the
// payload.
func (s *Sanitizer) Allocate(n uint64) unsafe.Pointer {
	if s.disabled {
		return s.hostAlloc(n)
	}
	if n == 0 {
		n = 1
	}
	unitCount := unitCountFor(n)

	s.mu.Lock()
	var offsetUnits uint64
	fromQuarantine, split := false, false
	if s.quarantine.UsageUnits() > s.quarantineThresholdUnits {
		if off, didSplit, ok := s.quarantine.TryAllocate(unitCount); ok {
			offsetUnits, fromQuarantine, split = off, true, didSplit
		}
	}
	if !fromQuarantine {
		off, err := s.arena.Carve(unitCount)
		if err != nil {
			s.mu.Unlock()
			s.fail("out-of-memory", 0, err.Error())
			return nil
		}
		offsetUnits = off
	}

	capsuleByteOff := uintptr(offsetUnits) * arena.UnitSize
	lastWordOff := capsuleByteOff + uintptr(unitCount)*arena.UnitSize - 8
	s.writeToken(s.tokenAt(lastWordOff), 0)
	s.mu.Unlock()

	ptr := s.arena.PointerOf(offsetUnits)
	payload := s.arena.Bytes(capsuleByteOff, uintptr(n))

	if fromQuarantine {
		for i := range payload {
			payload[i] = 0
		}
	}

	firstRedzoneWordOff := capsuleByteOff + uintptr((n+7)/8)*8
	for wordOff := lastWordOff; ; wordOff -= 8 {
		boundary := uint8(0)
		if wordOff == firstRedzoneWordOff {
			boundary = uint8(n % 8)
		}
		s.writeToken(s.tokenAt(wordOff), boundary)
		if wordOff == firstRedzoneWordOff {
			break
		}
	}

	if split {
		s.logger.Trace(obslog.OpQuarantineSplit, 0, ptr, unitCount)
	}
	s.logger.Trace(obslog.OpAllocate, n, ptr, unitCount)
	if s.opts.Checks {
		s.selfCheckAllocate(capsuleByteOff, n, unitCount)
	}
	return unsafe.Pointer(ptr)
}

// selfCheckAllocate is the optional, expensive post-allocation validation
// pass gated by REZZAN_CHECKS.
func (s *Sanitizer) selfCheckAllocate(capsuleByteOff uintptr, n, unitCount uint64) {
	addr := s.arena.Base() + capsuleByteOff
	if capsuleByteOff%16 != 0 {
		s.fail("self-check-violation", addr, "capsule base not 16-byte aligned")
	}
	if !s.poisoned(s.tokenAt(capsuleByteOff - 8)) {
		s.fail("self-check-violation", addr, "base sentinel not poisoned")
	}
	payloadWords := (n + 7) / 8
	for i := uint64(0); i < payloadWords; i++ {
		wordOff := capsuleByteOff + uintptr(i)*8
		liveBytes := n - i*8
		if liveBytes >= 8 && s.poisoned(s.tokenAt(wordOff)) {
			s.fail("self-check-violation", addr, "payload word unexpectedly poisoned")
		}
	}
	trailingOff := capsuleByteOff + uintptr(payloadWords)*8
	if !s.poisoned(s.tokenAt(trailingOff)) {
		s.fail("self-check-violation", addr, "trailing sentinel not poisoned")
	}
}

// Release returns a previously allocated capsule to the quarantine,
// poisoning it so subsequent accesses trap.
func (s *Sanitizer) Release(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if s.disabled {
		s.hostFree(p)
		return
	}
	addr := uintptr(p)
	if addr%16 != 0 {
		s.fail("bad-free", addr, "pointer is not 16-byte aligned")
		return
	}
	if !s.arena.Contains(addr) {
		s.hostFree(p)
		return
	}

	off := addr - s.arena.Base()
	if s.poisoned(s.tokenAt(off)) {
		s.fail("double-free", addr, "first word of pointer is already poisoned")
		return
	}
	if !s.poisoned(s.tokenAt(off - 8)) {
		s.fail("bad-free", addr, "pointer does not point to object base")
		return
	}

	wordCount := uint64(0)
	for wordOff := off; !s.poisoned(s.tokenAt(wordOff)); wordOff += 8 {
		s.writeToken(s.tokenAt(wordOff), 0)
		wordCount++
	}
	if wordCount%2 != 0 {
		wordCount++
	}
	unitCount := wordCount / 2

	s.mu.Lock()
	if s.quarantine.Insert(uint64(off)/arena.UnitSize, unitCount) {
		s.logger.Trace(obslog.OpQuarantineInsert, 0, addr, unitCount)
	}
	s.mu.Unlock()

	s.logger.Trace(obslog.OpRelease, 0, addr, unitCount)
}

// oldPayloadSize scans forward from an arena pointer counting
// non-poisoned words, the shared "how big was this, really" query
// behind UsableSize and Resize.
func (s *Sanitizer) oldPayloadSize(addr uintptr) uint64 {
	off := addr - s.arena.Base()
	wordCount := uint64(0)
	for !s.poisoned(s.tokenAt(off)) {
		off += 8
		wordCount++
	}
	return wordCount * 8
}

// UsableSize reports how many payload bytes p's capsule can hold.
func (s *Sanitizer) UsableSize(p unsafe.Pointer) uint64 {
	if p == nil {
		return 0
	}
	addr := uintptr(p)
	if s.disabled || !s.arena.Contains(addr) {
		return s.hostSize(p)
	}
	return s.oldPayloadSize(addr)
}

// Resize allocates a new capsule of size n, copies over the overlap,
// and releases the old one.
func (s *Sanitizer) Resize(p unsafe.Pointer, n uint64) unsafe.Pointer {
	if p == nil {
		return s.Allocate(n)
	}
	addr := uintptr(p)
	if s.disabled || !s.arena.Contains(addr) {
		return s.hostRealloc(p, n)
	}

	oldSize := s.oldPayloadSize(addr)
	newPtr := s.Allocate(n)

	copyLen := oldSize
	if n < copyLen {
		copyLen = n
	}
	if copyLen > 0 {
		oldBytes := unsafe.Slice((*byte)(p), copyLen)
		newBytes := unsafe.Slice((*byte)(newPtr), copyLen)
		copy(newBytes, oldBytes)
	}

	s.Release(p)
	s.logger.Trace(obslog.OpResize, n, uintptr(newPtr), unitCountFor(n))
	return newPtr
}

// ZeroedAllocate allocates space for k elements of n bytes each, zeroed.
// Multiplication overflow is deliberately unchecked.
func (s *Sanitizer) ZeroedAllocate(k, n uint64) unsafe.Pointer {
	return s.Allocate(k * n)
}

// Check exposes the access checker for package intercept to call
// before every bulk read/write.
func (s *Sanitizer) Check(p unsafe.Pointer, n uintptr) {
	if s.disabled || !s.arena.Contains(uintptr(p)) {
		return
	}
	s.checker.Check(uintptr(p)-s.arena.Base(), n)
}

// ArenaContains reports whether p was carved from this Sanitizer's
// arena, the same test package intercept uses to decide whether a
// pointer needs checking at all.
func (s *Sanitizer) ArenaContains(p unsafe.Pointer) bool {
	return !s.disabled && s.arena.Contains(uintptr(p))
}

func (s *Sanitizer) hostAlloc(n uint64) unsafe.Pointer {
	if n == 0 {
		n = 1
	}
	buf := make([]byte, n)
	ptr := unsafe.Pointer(&buf[0])
	s.fgMu.Lock()
	s.foreign[uintptr(ptr)] = buf
	s.fgMu.Unlock()
	return ptr
}

func (s *Sanitizer) hostFree(p unsafe.Pointer) {
	s.fgMu.Lock()
	delete(s.foreign, uintptr(p))
	s.fgMu.Unlock()
}

func (s *Sanitizer) hostSize(p unsafe.Pointer) uint64 {
	s.fgMu.Lock()
	defer s.fgMu.Unlock()
	return uint64(len(s.foreign[uintptr(p)]))
}

func (s *Sanitizer) hostRealloc(p unsafe.Pointer, n uint64) unsafe.Pointer {
	if p == nil {
		return s.hostAlloc(n)
	}
	s.fgMu.Lock()
	old := s.foreign[uintptr(p)]
	delete(s.foreign, uintptr(p))
	s.fgMu.Unlock()

	newPtr := s.hostAlloc(n)
	newBuf := unsafe.Slice((*byte)(newPtr), n)
	copy(newBuf, old)
	return newPtr
}
