package syncutil

import "sync/atomic"

// Barrier implements the two-phase, polarity-flipping barrier described in
// spec.md §4.3: one single-writer byte per rank plus an alternating flip
// bit, so two consecutive barrier calls need no reset between them (spec.md
// §8's "idempotent barrier polarity" law).
//
// Boxes live in shared memory; Barrier only ever touches its own rank's
// box for writes and reads every other rank's box, matching the
// single-writer discipline spec.md §5 requires.
type Barrier struct {
	boxes []uint32 // one uint32 box per rank, 0/1 valued
	flip  uint32   // alternates 0/1 across calls
	rank  int
	n     int
}

// NewBarrier wraps a pre-allocated slice of per-rank boxes (one entry per
// rank, typically a view into the shared segment) for the given rank.
func NewBarrier(boxes []uint32, rank int) *Barrier {
	return &Barrier{boxes: boxes, rank: rank, n: len(boxes)}
}

// Wait blocks until every rank has entered this call, as well as every
// earlier call made with the same flip polarity. Root (rank 0) fans in by
// spinning over all other boxes, then fans out by writing its own; every
// non-root rank writes its own box first, then spins on root's.
func (b *Barrier) Wait() {
	b.flip ^= 1
	flip := b.flip

	if b.rank == 0 {
		s := NewSpinner()
		for r := 1; r < b.n; r++ {
			for atomic.LoadUint32(&b.boxes[r]) != flip {
				s.Spin()
			}
		}
		atomic.StoreUint32(&b.boxes[0], flip)
		return
	}

	atomic.StoreUint32(&b.boxes[b.rank], flip)
	s := NewSpinner()
	for atomic.LoadUint32(&b.boxes[0]) != flip {
		s.Spin()
	}
}
