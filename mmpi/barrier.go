package messenger

import (
	"github.com/behrlich/mmpi/internal/msgqueue"
	"github.com/behrlich/mmpi/internal/syncutil"
)

// Barrier adapts the flip-polarity algorithm of internal/syncutil.Barrier
// to the shared segment's per-rank RankRecord.Barrier cells, which can't
// be viewed as a single contiguous []uint32 (each cell sits at a fixed
// offset inside a much larger, differently-sized record). Same
// algorithm, different box storage.
type Barrier struct {
	records []*msgqueue.RankRecord
	rank    int
	flip    uint32
}

func newBarrier(records []*msgqueue.RankRecord, rank int) *Barrier {
	return &Barrier{records: records, rank: rank}
}

// Wait blocks until every rank has called Wait, per spec.md §4.3.
func (b *Barrier) Wait() {
	b.flip ^= 1
	flip := b.flip

	if b.rank == 0 {
		s := syncutil.NewSpinner()
		for r := 1; r < len(b.records); r++ {
			for b.records[r].LoadBarrier() != flip {
				s.Spin()
			}
		}
		b.records[0].SetBarrier(flip)
		return
	}

	b.records[b.rank].SetBarrier(flip)
	s := syncutil.NewSpinner()
	for b.records[0].LoadBarrier() != flip {
		s.Spin()
	}
}
