// Package quarantine implements the size-classed, delayed-reuse free
// lists of recently-freed capsules.
//
// Each size class is a single FIFO list of index-linked nodes over a
// compact node pool; an oversized match can be split, with the residual
// reinserted at the front of its own class for quick LIFO reuse.
package quarantine

import (
	"math/bits"

	"github.com/rezzan-go/rezzan/internal/arena"
)

// NumBuckets is the fixed bucket count of the Quarantine.
const NumBuckets = 20

// maxBucketScan bounds how many entries Quarantine.TryAllocate walks
// in the target bucket before giving up and falling back to the
// larger buckets' front entries.
const maxBucketScan = 8

// SizeClass computes the bucket index for a capsule of unitCount
// units: class(0) = 0; otherwise min(19, floor(log2(u))+1).
// bits.Len64(u) already equals floor(log2(u))+1 for u>0.
func SizeClass(unitCount uint64) int {
	if unitCount == 0 {
		return 0
	}
	c := bits.Len64(unitCount)
	if c > NumBuckets-1 {
		c = NumBuckets - 1
	}
	return c
}

type bucket struct {
	front, back int32
}

// Quarantine holds the 20 size-classed FIFO free lists plus the
// dedicated free-node arena and recycle list backing them. Not safe
// for concurrent use; callers serialize access with their own lock
// (the façade keeps both the buckets and the free-node structures
// under its single allocator-wide lock).
type Quarantine struct {
	buckets     [NumBuckets]bucket
	usageUnits  uint64
	pool        *nodePool
	recycleHead int32
	leaked      uint64 // capsules dropped silently because the node pool was exhausted
}

// New builds an empty Quarantine, reserving its dedicated free-node
// arena.
func New() (*Quarantine, error) {
	pool, err := newNodePool()
	if err != nil {
		return nil, err
	}
	q := &Quarantine{pool: pool, recycleHead: noIndex}
	for i := range q.buckets {
		q.buckets[i] = bucket{front: noIndex, back: noIndex}
	}
	return q, nil
}

// UsageUnits returns the total units of capsules currently parked in
// quarantine.
func (q *Quarantine) UsageUnits() uint64 { return q.usageUnits }

// UsageBytes is UsageUnits expressed in bytes.
func (q *Quarantine) UsageBytes() uint64 { return q.usageUnits * arena.UnitSize }

// LeakedCapsules returns how many Insert calls silently dropped a
// capsule because the free-node arena was exhausted: a transient
// resource failure, never fatal.
func (q *Quarantine) LeakedCapsules() uint64 { return q.leaked }

func (q *Quarantine) newNode() (int32, bool) {
	if q.recycleHead != noIndex {
		idx := q.recycleHead
		q.recycleHead = q.pool.at(idx).next
		return idx, true
	}
	return q.pool.alloc()
}

func (q *Quarantine) recycleNode(idx int32) {
	n := q.pool.at(idx)
	n.next = q.recycleHead
	q.recycleHead = idx
}

func (q *Quarantine) pushBack(bi int, idx int32) {
	n := q.pool.at(idx)
	n.next = noIndex
	b := &q.buckets[bi]
	if b.back == noIndex {
		b.front, b.back = idx, idx
		return
	}
	q.pool.at(b.back).next = idx
	b.back = idx
}

func (q *Quarantine) pushFront(bi int, idx int32) {
	b := &q.buckets[bi]
	n := q.pool.at(idx)
	n.next = b.front
	if b.front == noIndex {
		b.back = idx
	}
	b.front = idx
}

// removeAfter unlinks idx from bucket bi, given its predecessor
// predIdx (noIndex if idx is the bucket's front entry).
func (q *Quarantine) removeAfter(bi int, predIdx, idx int32) {
	b := &q.buckets[bi]
	n := q.pool.at(idx)
	if predIdx == noIndex {
		b.front = n.next
	} else {
		q.pool.at(predIdx).next = n.next
	}
	if b.back == idx {
		b.back = predIdx
	}
}

// TryAllocate implements the allocation algorithm: find a
// quarantined capsule of at least unitCount units, split it if
// oversized, and return its offset (in units, from the arena base).
// split reports whether the match was oversized and had to be carved
// down, as opposed to an exact-size match. Only called by the façade
// once overall usage exceeds the configured threshold.
func (q *Quarantine) TryAllocate(unitCount uint64) (offsetUnits uint64, split bool, ok bool) {
	i := SizeClass(unitCount)

	var predIdx, chosenIdx int32 = noIndex, noIndex
	chosenBucket := i
	cur := q.buckets[i].front
	for n := 0; cur != noIndex && n < maxBucketScan; n++ {
		node := q.pool.at(cur)
		if uint64(node.unitCount) >= unitCount {
			chosenIdx = cur
			break
		}
		predIdx = cur
		cur = node.next
	}

	if chosenIdx == noIndex {
		predIdx = noIndex
		for j := i + 1; j < NumBuckets; j++ {
			front := q.buckets[j].front
			if front != noIndex && uint64(q.pool.at(front).unitCount) >= unitCount {
				chosenIdx = front
				chosenBucket = j
				break
			}
		}
	}

	if chosenIdx == noIndex {
		return 0, false, false
	}

	node := q.pool.at(chosenIdx)
	nodeUnitCount := uint64(node.unitCount)
	nodeOffsetUnits := uint64(node.unitOffset)

	q.removeAfter(chosenBucket, predIdx, chosenIdx)
	q.usageUnits -= unitCount

	if nodeUnitCount == unitCount {
		q.recycleNode(chosenIdx)
		return nodeOffsetUnits, false, true
	}

	// Oversized match: split. The returned portion is the high end of
	// the capsule, preserving whatever poison pattern already covers
	// the low (residual) end; the residual is reinserted at the front
	// of its bucket for LIFO reuse.
	residualUnits := nodeUnitCount - unitCount
	returnedOffsetUnits := nodeOffsetUnits + residualUnits

	node.unitOffset = uint32(nodeOffsetUnits)
	node.unitCount = uint32(residualUnits)
	q.pushFront(SizeClass(residualUnits), chosenIdx)

	return returnedOffsetUnits, true, true
}

// Insert parks a just-freed capsule in quarantine, called by the
// façade's Release. Appended to the back of its size class so FIFO
// ordering maximizes residency time before reuse. Returns false if the
// free-node arena was exhausted — the capsule is then leaked silently
// rather than corrupting quarantine invariants.
func (q *Quarantine) Insert(offsetUnits, unitCount uint64) bool {
	idx, ok := q.newNode()
	if !ok {
		q.leaked++
		return false
	}
	n := q.pool.at(idx)
	n.unitOffset = uint32(offsetUnits)
	n.unitCount = uint32(unitCount)
	q.pushBack(SizeClass(unitCount), idx)
	q.usageUnits += unitCount
	return true
}
