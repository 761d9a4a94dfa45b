package messenger

import (
	"fmt"

	"github.com/behrlich/mmpi/internal/msgqueue"
	"github.com/behrlich/mmpi/internal/syncutil"
	"github.com/behrlich/mmpi/internal/wire"
)

// Send transmits buf to destRank, choosing fragmented or rendezvous
// transfer by spec.md §4.3's size-threshold rule: rendezvous is
// preferred whenever the buffer lies entirely inside one region known
// to the driller (MSG_DRILLER_SIZE_THRESHOLD defaults to 0, i.e. always
// prefer rendezvous when eligible). A send to this rank's own rank always
// fragments: the rendezvous sender waits for a receive that the same
// rank could only make after Send returns.
// Send's second return value reports whether the rendezvous path was
// taken, for callers that want to attribute metrics accurately.
func (m *Messenger) Send(destRank int, buf []byte) (bool, error) {
	if destRank < 0 || destRank >= m.nprocs {
		return false, fmt.Errorf("messenger: Send destRank %d out of range", destRank)
	}

	if destRank != m.rank {
		if r, ok := m.lookupCoveringRegion(buf); ok {
			return true, m.sendRendezvous(destRank, buf, r)
		}
	}
	return false, m.sendFragmented(destRank, buf)
}

// sendFragmented splits buf into MSG_PAYLOAD_SIZE_BYTES chunks, each
// carried by one slot drawn from this rank's own free-queue and enqueued
// on the destination's receive-queue (spec.md §4.3 "Fragmented").
func (m *Messenger) sendFragmented(destRank int, buf []byte) error {
	src := m.records[m.rank]
	dst := m.records[destRank]

	if len(buf) == 0 {
		s, ok := src.FreeQueue.Dequeue()
		if !ok {
			return fmt.Errorf("messenger: free-queue exhausted on rank %d", m.rank)
		}
		s.Type = msgqueue.SlotData
		s.Len = 0
		s.SrcRank = int32(m.rank)
		dst.RecvQueue.Enqueue(s)
		return nil
	}

	off := 0
	for off < len(buf) {
		s, ok := src.FreeQueue.Dequeue()
		if !ok {
			return fmt.Errorf("messenger: free-queue exhausted on rank %d", m.rank)
		}

		n := len(buf) - off
		if n > msgqueue.PayloadSize {
			n = msgqueue.PayloadSize
		}
		copy(s.Payload[:n], buf[off:off+n])
		s.Len = uint32(n)
		s.SrcRank = int32(m.rank)

		off += n
		if off >= len(buf) {
			s.Type = msgqueue.SlotData
		} else {
			s.Type = msgqueue.SlotFrag
		}
		dst.RecvQueue.Enqueue(s)
	}
	return nil
}

// sendRendezvous publishes r's descriptor (once per region, via its
// attached publishRecord cookie) and enqueues a single RV slot
// describing where in the region the payload lives, then spin-waits for
// the receiver to clear rv_active — spec.md §4.3 "Rendezvous".
func (m *Messenger) sendRendezvous(destRank int, buf []byte, r *coveringRegion) error {
	src := m.records[m.rank]
	dst := m.records[destRank]

	pr, err := m.ensurePublished(r)
	if err != nil {
		return fmt.Errorf("messenger: publish rendezvous region: %w", err)
	}
	pr.markUsed(destRank)

	s, ok := src.FreeQueue.Dequeue()
	if !ok {
		return fmt.Errorf("messenger: free-queue exhausted on rank %d", m.rank)
	}
	s.Type = msgqueue.SlotRV
	s.SrcRank = int32(m.rank)
	s.Len = uint32(len(buf))
	s.RV = msgqueue.RVDescriptor{
		RegionStart: r.start,
		RegionEnd:   r.end,
		KeyOwner:    pr.key.Owner,
		KeyLocal:    pr.key.Local,
		OffsetInBuf: r.offset,
		Length:      uintptr(len(buf)),
	}

	src.SetRVActive(true)
	dst.RecvQueue.Enqueue(s)

	spinner := syncutil.NewSpinner()
	for src.LoadRVActive() {
		spinner.Spin()
	}
	return nil
}

// coveringRegion carries just the fields Send needs out of a
// region.Region lookup without importing the region/driller packages
// into this file's signatures.
type coveringRegion struct {
	start, end, offset uintptr
}

func (m *Messenger) lookupCoveringRegion(buf []byte) (*coveringRegion, bool) {
	if len(buf) == 0 {
		return nil, false
	}
	addr := bufAddr(buf)
	r, ok := m.driller.Lookup(addr, uintptr(len(buf)))
	if !ok {
		return nil, false
	}
	if addr < r.Start || addr+uintptr(len(buf)) > r.End {
		// Buffer straddles more than one region: spec.md §9 is explicit
		// that this must fragment, never silently fall back partially.
		return nil, false
	}
	return &coveringRegion{start: r.Start, end: r.End, offset: addr - r.Start}, true
}

func (m *Messenger) ensurePublished(cr *coveringRegion) (*publishRecord, error) {
	r, ok := m.driller.Lookup(cr.start, 1)
	if !ok {
		return nil, fmt.Errorf("messenger: region no longer tracked")
	}
	if pr, ok := cookieOf(r); ok {
		return pr, nil
	}

	key := wire.Key{Owner: int32(m.rank), Local: int64(cr.start)}
	if err := m.broker.Publish(&key, r.FD); err != nil {
		return nil, err
	}
	pr := newPublishRecord(key, m.nprocs)
	r.Cookie = pr
	return pr, nil
}
