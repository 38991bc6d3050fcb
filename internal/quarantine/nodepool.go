package quarantine

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rezzan-go/rezzan/internal/sysmem"
)

// freeNode is a quarantine entry: {unitOffset, unitCount, next}, kept
// deliberately compact — two 32-bit indices plus one 32-bit link, 12
// bytes total.
type freeNode struct {
	unitOffset uint32
	unitCount  uint32
	next       int32 // index into nodePool.nodes, or noIndex
}

const noIndex int32 = -1

const nodeSize = unsafe.Sizeof(freeNode{})

// nodeArenaBase is the fixed address the free-node slab is reserved
// at, distinct from internal/arena's and internal/noncepage's bases.
const nodeArenaBase = 0x0000_5000_0000_0000

// nodeArenaReservation bounds how many FreeNodes the process can ever
// have outstanding at once; exhausting this is treated as a
// deliberate, silent leak rather than a fatal condition.
const nodeArenaReservation = 64 << 20 // 64 MiB of node storage

// nodeGrowthChunk is the growth increment for the node pool's backing
// mapping.
const nodeGrowthChunk = 2 * sysmem.PageSize

// nodePool is the dedicated free-node arena backing all FreeNodes.
// It is a plain bump allocator: it never shrinks, and nodes freed by
// the recycle list (see quarantine.go) are reused in place rather than
// returned here.
type nodePool struct {
	mem        []byte
	mappedUpto uintptr
	bump       uintptr
}

func newNodePool() (*nodePool, error) {
	mem, err := sysmem.MapFixed(nodeArenaBase, nodeArenaReservation, unix.PROT_NONE)
	if err != nil {
		return nil, err
	}
	return &nodePool{mem: mem}, nil
}

// alloc bump-allocates a new node and returns its index, or false if
// the dedicated free-node arena is exhausted.
func (p *nodePool) alloc() (int32, bool) {
	need := uintptr(nodeSize)
	if p.bump+need > uintptr(len(p.mem)) {
		return 0, false
	}
	if p.bump+need > p.mappedUpto {
		newMappedUpto := p.mappedUpto + nodeGrowthChunk
		if newMappedUpto > uintptr(len(p.mem)) {
			newMappedUpto = uintptr(len(p.mem))
		}
		if newMappedUpto < p.bump+need {
			return 0, false
		}
		if err := sysmem.Protect(p.mem[p.mappedUpto:newMappedUpto], unix.PROT_READ|unix.PROT_WRITE); err != nil {
			return 0, false
		}
		p.mappedUpto = newMappedUpto
	}
	idx := int32(p.bump / need)
	p.bump += need
	return idx, true
}

func (p *nodePool) at(idx int32) *freeNode {
	off := uintptr(idx) * nodeSize
	return (*freeNode)(unsafe.Pointer(&p.mem[off]))
}
