package messenger

import (
	"github.com/behrlich/mmpi/internal/region"
	"github.com/behrlich/mmpi/internal/wire"
)

// publishRecord is the per-region cookie spec.md §9 describes ("the
// driller does not know what the messenger wants to hang off a
// region"): a descriptor key plus a per-rank reference vector marking
// which ranks have been told about the region's descriptor, so an
// invalidation can notify exactly the ranks that might still have it
// mapped.
type publishRecord struct {
	key  wire.Key
	used []bool // length nprocs
}

func newPublishRecord(key wire.Key, nprocs int) *publishRecord {
	return &publishRecord{key: key, used: make([]bool, nprocs)}
}

func (pr *publishRecord) markUsed(rank int) {
	if rank >= 0 && rank < len(pr.used) {
		pr.used[rank] = true
	}
}

// cookieOf extracts the publishRecord attached to r, if any.
func cookieOf(r *region.Region) (*publishRecord, bool) {
	pr, ok := r.Cookie.(*publishRecord)
	return pr, ok
}

// onInvalidate implements the messenger's driller invalidation callback
// (spec.md §4.3 "Invalidation callback"): invalidate at the broker, tell
// every rank marked as a user, then drop the publishing record.
func (m *Messenger) onInvalidate(r *region.Region) {
	pr, ok := cookieOf(r)
	if !ok {
		return
	}

	if err := m.broker.Invalidate(pr.key); err != nil {
		m.logger.Warn("broker invalidate failed", "key", pr.key, "error", err)
	}

	for rank, used := range pr.used {
		if !used || rank == m.rank {
			continue
		}
		m.sendInvalidateControl(rank, pr.key)
	}
	r.Cookie = nil
}
