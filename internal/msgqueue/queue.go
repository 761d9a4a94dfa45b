package msgqueue

import (
	"unsafe"

	"github.com/behrlich/mmpi/internal/syncutil"
)

// Queue is the intrusive, spinlocked doubly linked queue of spec.md §3
// ("Message queue"): anchored in shared memory, FIFO, pointer-free.
// Head/tail are stored as signed byte offsets from the Queue's own
// address; each Slot's Next/Prev are offsets from that slot's own
// address (spec.md §9 "Intrusive shared-memory lists") — every
// traversal reconstructs a peer's address as `self + offset`, so the
// same backing bytes are walkable from any process that maps this
// segment, regardless of the base address the mapping lands at.
type Queue struct {
	lock    syncutil.SpinLock
	headOff int64
	tailOff int64
	hasHead bool
}

func offsetFrom(from, to unsafe.Pointer) int64 {
	return int64(uintptr(to)) - int64(uintptr(from))
}

func resolve(from unsafe.Pointer, off int64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(from) + uintptr(off))
}

// Enqueue appends s to the tail of q.
func (q *Queue) Enqueue(s *Slot) {
	q.lock.Lock()
	defer q.lock.Unlock()

	qPtr := unsafe.Pointer(q)
	sPtr := unsafe.Pointer(s)

	s.NextOff, s.PrevOff = 0, 0

	if !q.hasHead {
		q.headOff = offsetFrom(qPtr, sPtr)
		q.tailOff = q.headOff
		q.hasHead = true
		return
	}

	tail := (*Slot)(resolve(qPtr, q.tailOff))
	tail.NextOff = offsetFrom(unsafe.Pointer(tail), sPtr)
	s.PrevOff = offsetFrom(sPtr, unsafe.Pointer(tail))
	q.tailOff = offsetFrom(qPtr, sPtr)
}

// Dequeue pops the slot at the head of q, FIFO order.
func (q *Queue) Dequeue() (*Slot, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if !q.hasHead {
		return nil, false
	}

	qPtr := unsafe.Pointer(q)
	head := (*Slot)(resolve(qPtr, q.headOff))

	if head.NextOff == 0 {
		q.hasHead = false
		q.headOff, q.tailOff = 0, 0
	} else {
		next := (*Slot)(resolve(unsafe.Pointer(head), head.NextOff))
		next.PrevOff = 0
		q.headOff = offsetFrom(qPtr, unsafe.Pointer(next))
	}

	head.NextOff, head.PrevOff = 0, 0
	return head, true
}

// DequeueSource pops the first slot in q whose SrcRank equals rank,
// preserving the relative order of the slots left behind. This backs
// the receive path's "dequeue the first slot whose source equals the
// requested source" rule (spec.md §4.3).
func (q *Queue) DequeueSource(rank int32) (*Slot, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if !q.hasHead {
		return nil, false
	}

	qPtr := unsafe.Pointer(q)
	var prev *Slot
	cur := (*Slot)(resolve(qPtr, q.headOff))

	for {
		var next *Slot
		hasNext := cur.NextOff != 0
		if hasNext {
			next = (*Slot)(resolve(unsafe.Pointer(cur), cur.NextOff))
		}

		if cur.SrcRank == rank {
			switch {
			case prev == nil && hasNext:
				next.PrevOff = 0
				q.headOff = offsetFrom(qPtr, unsafe.Pointer(next))
			case prev == nil && !hasNext:
				q.hasHead = false
				q.headOff, q.tailOff = 0, 0
			case prev != nil && hasNext:
				prev.NextOff = offsetFrom(unsafe.Pointer(prev), unsafe.Pointer(next))
				next.PrevOff = offsetFrom(unsafe.Pointer(next), unsafe.Pointer(prev))
			default: // prev != nil && !hasNext
				prev.NextOff = 0
				q.tailOff = offsetFrom(qPtr, unsafe.Pointer(prev))
			}
			cur.NextOff, cur.PrevOff = 0, 0
			return cur, true
		}

		if !hasNext {
			return nil, false
		}
		prev = cur
		cur = next
	}
}

// Len walks q and counts its elements. Used only by tests and
// diagnostics; production code never needs list length.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	if !q.hasHead {
		return 0
	}
	qPtr := unsafe.Pointer(q)
	n := 1
	cur := (*Slot)(resolve(qPtr, q.headOff))
	for cur.NextOff != 0 {
		cur = (*Slot)(resolve(unsafe.Pointer(cur), cur.NextOff))
		n++
	}
	return n
}
