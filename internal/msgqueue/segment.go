package msgqueue

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/behrlich/mmpi/internal/constants"
)

// PoolSize is the number of slots in a rank's pool, MSG_POOL_SIZE in
// spec.md §6 (default 1024).
const PoolSize = constants.MsgPoolSize

// RankRecord is spec.md §3's "Shared segment" per-rank record: a barrier
// cell, a rendezvous-active flag, a free-queue, a receive-queue, and a
// slot pool. Barrier/RVActive are declared first and kept to a single
// cache line (CACHELINE_ALIGN = 64) since they are the hottest,
// most-contended fields; the bulky Pool array follows.
type RankRecord struct {
	Barrier  uint32
	RVActive uint32
	_        [56]byte // pad Barrier/RVActive out to one cache line

	FreeQueue Queue
	RecvQueue Queue

	Pool [PoolSize]Slot
}

// RankRecordSize is the byte size of one RankRecord, used to compute the
// full shared segment's size as nprocs * RankRecordSize (spec.md §3).
const RankRecordSize = int(unsafe.Sizeof(RankRecord{}))

// Segment views a raw byte buffer (backed by a shared, file-backed
// mmap) as nprocs contiguous RankRecords. The buffer must be at least
// nprocs*RankRecordSize bytes and must not be moved or resized for the
// lifetime of the returned records.
func Segment(buf []byte, nprocs int) ([]*RankRecord, error) {
	need := nprocs * RankRecordSize
	if len(buf) < need {
		return nil, fmt.Errorf("msgqueue: segment buffer too small: have %d, need %d", len(buf), need)
	}
	out := make([]*RankRecord, nprocs)
	base := unsafe.Pointer(&buf[0])
	for r := 0; r < nprocs; r++ {
		out[r] = (*RankRecord)(unsafe.Add(base, r*RankRecordSize))
	}
	return out, nil
}

// InitPool marks every slot in rec's pool as FREE, stamps its home rank,
// and enqueues it onto FreeQueue — the pool-init step spec.md §3's
// "Lifecycles" describes: "a slot's home rank is fixed at pool init so
// the free slot always returns to its creator's pool".
func (rec *RankRecord) InitPool(homeRank int32) {
	for i := range rec.Pool {
		s := &rec.Pool[i]
		s.Reset()
		s.HomeRank = homeRank
		rec.FreeQueue.Enqueue(s)
	}
}

// SetBarrier and LoadBarrier give atomic, volatile-equivalent access to
// the polarity barrier cell (spec.md §5: "mutual exclusion is by
// polarity, not lock").
func (rec *RankRecord) SetBarrier(v uint32) { atomic.StoreUint32(&rec.Barrier, v) }
func (rec *RankRecord) LoadBarrier() uint32 { return atomic.LoadUint32(&rec.Barrier) }

// SetRVActive and LoadRVActive give atomic access to the single-writer
// rendezvous-active cell (set by sender, cleared by receiver).
func (rec *RankRecord) SetRVActive(v bool) {
	var iv uint32
	if v {
		iv = 1
	}
	atomic.StoreUint32(&rec.RVActive, iv)
}

func (rec *RankRecord) LoadRVActive() bool {
	return atomic.LoadUint32(&rec.RVActive) != 0
}
