package messenger

import (
	"fmt"

	"github.com/behrlich/mmpi/internal/mapcache"
	"github.com/behrlich/mmpi/internal/msgqueue"
	"github.com/behrlich/mmpi/internal/syncutil"
	"github.com/behrlich/mmpi/internal/wire"
)

// Recv blocks until a message from srcRank is fully received and
// returns its bytes, dispatching on slot type per spec.md §4.3's
// "Receive path". RV-INVALIDATE slots are control messages: they are
// consumed and the loop continues without returning to the caller.
func (m *Messenger) Recv(srcRank int) ([]byte, error) {
	self := m.records[m.rank]
	var out []byte

	for {
		s, ok := self.RecvQueue.DequeueSource(int32(srcRank))
		if !ok {
			syncutil.NewSpinner().Spin()
			continue
		}

		switch s.Type {
		case msgqueue.SlotFrag:
			out = append(out, s.Payload[:s.Len]...)
			m.freeSlot(s)

		case msgqueue.SlotData:
			out = append(out, s.Payload[:s.Len]...)
			m.freeSlot(s)
			return out, nil

		case msgqueue.SlotRV:
			data, err := m.receiveRendezvous(s)
			m.freeSlot(s)
			return data, err

		case msgqueue.SlotRVInvalidate:
			key := mapcache.Key{Owner: s.RV.KeyOwner, Local: s.RV.KeyLocal}
			m.cache.Invalidate(key)
			m.freeSlot(s)
			continue

		default:
			m.freeSlot(s)
			return nil, fmt.Errorf("messenger: unexpected slot type %s", s.Type)
		}
	}
}

// receiveRendezvous maps (or reuses a cached mapping of) the sender's
// region and copies the payload out, then clears the sender's rv_active
// cell so its Send call returns (spec.md §4.3).
func (m *Messenger) receiveRendezvous(s *msgqueue.Slot) ([]byte, error) {
	key := mapcache.Key{Owner: s.RV.KeyOwner, Local: s.RV.KeyLocal}

	entry, ok := m.cache.Lookup(key)
	if !ok || !entry.Covers(s.RV.OffsetInBuf, s.RV.Length) {
		fd, err := m.broker.Lookup(brokerKey(key))
		if err != nil {
			return nil, fmt.Errorf("messenger: lookup rendezvous descriptor: %w", err)
		}
		if fd < 0 {
			return nil, fmt.Errorf("messenger: rendezvous descriptor %v not found at broker", key)
		}
		entry, err = m.cache.Install(key, fd, s.RV.OffsetInBuf, s.RV.Length)
		if err != nil {
			return nil, err
		}
	}

	rel := s.RV.OffsetInBuf - entry.RangeLo
	view := addrSlice(entry.MapAddr+rel, s.RV.Length)
	out := make([]byte, len(view))
	copy(out, view)

	src := m.records[s.SrcRank]
	src.SetRVActive(false)
	return out, nil
}

func (m *Messenger) freeSlot(s *msgqueue.Slot) {
	s.Reset()
	m.records[s.HomeRank].FreeQueue.Enqueue(s)
}

// sendInvalidateControl enqueues an RV-INVALIDATE control slot on
// rank's receive-queue, drawing the slot from this rank's own
// free-queue (spec.md §4.3 "Invalidation callback").
func (m *Messenger) sendInvalidateControl(rank int, key wire.Key) {
	self := m.records[m.rank]
	s, ok := self.FreeQueue.Dequeue()
	if !ok {
		m.logger.Error("cannot send RV-INVALIDATE, free-queue exhausted")
		return
	}
	s.Type = msgqueue.SlotRVInvalidate
	s.SrcRank = int32(m.rank)
	s.RV.KeyOwner = key.Owner
	s.RV.KeyLocal = key.Local
	m.records[rank].RecvQueue.Enqueue(s)
}

func brokerKey(k mapcache.Key) wire.Key {
	return wire.Key{Owner: k.Owner, Local: k.Local}
}

func addrSlice(addr, length uintptr) []byte {
	return unsafeSlice(addr, length)
}
