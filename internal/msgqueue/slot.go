// Package msgqueue implements the shared-memory message slot pool and
// the intrusive, spinlocked queues of spec.md §3: "Message slot",
// "Message queue", and "Shared segment".
package msgqueue

import (
	"github.com/behrlich/mmpi/internal/constants"
)

// SlotType is the tag of spec.md §3's "Message slot": FREE, DATA (final
// fragment), FRAG (non-final fragment), RV (rendezvous), RV-INVALIDATE.
type SlotType int32

const (
	SlotFree SlotType = iota
	SlotData
	SlotFrag
	SlotRV
	SlotRVInvalidate
)

func (t SlotType) String() string {
	switch t {
	case SlotFree:
		return "FREE"
	case SlotData:
		return "DATA"
	case SlotFrag:
		return "FRAG"
	case SlotRV:
		return "RV"
	case SlotRVInvalidate:
		return "RV-INVALIDATE"
	default:
		return "UNKNOWN"
	}
}

// PayloadSize is the inline payload capacity of a fragmented slot,
// MSG_PAYLOAD_SIZE_BYTES in spec.md §6.
const PayloadSize = constants.MsgPayloadSizeBytes

// RVDescriptor is the rendezvous payload carried by an RV slot: a copy
// of the region record's shape plus the key/offset/length needed to map
// and read it (spec.md §3's "rendezvous descriptor").
type RVDescriptor struct {
	RegionStart  uintptr
	RegionEnd    uintptr
	KeyOwner     int32
	KeyLocal     int64
	OffsetInBuf  uintptr
	Length       uintptr
}

// Slot is one element of a rank's fixed-capacity pool. NextOff/PrevOff
// are signed byte offsets relative to the slot's own shared-memory
// address (spec.md §9 "Intrusive shared-memory lists") so a slot never
// stores a pointer meaningful only in its creator's address space.
type Slot struct {
	NextOff int64
	PrevOff int64

	Type      SlotType
	Len       uint32
	SrcRank   int32
	HomeRank  int32

	Payload [PayloadSize]byte
	RV      RVDescriptor
}

// Reset restores s to its FREE state, clearing the fields a reused slot
// must not leak between cycles.
func (s *Slot) Reset() {
	s.Type = SlotFree
	s.Len = 0
	s.SrcRank = 0
	s.RV = RVDescriptor{}
}
