package msgqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	var q Queue
	var slots [3]Slot
	for i := range slots {
		slots[i].SrcRank = int32(i)
		q.Enqueue(&slots[i])
	}

	for i := 0; i < 3; i++ {
		s, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, int32(i), s.SrcRank)
	}
	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestDequeueSourceSkipsNonMatching(t *testing.T) {
	var q Queue
	var slots [4]Slot
	for i := range slots {
		slots[i].SrcRank = int32(i % 2)
		q.Enqueue(&slots[i])
	}

	s, ok := q.DequeueSource(1)
	require.True(t, ok)
	require.Equal(t, int32(1), s.SrcRank)

	require.Equal(t, 3, q.Len())

	// Remaining order among rank-0 slots must be preserved.
	s0, ok := q.DequeueSource(0)
	require.True(t, ok)
	require.Same(t, &slots[0], s0)
}

func TestDequeueSourceNoMatchLeavesQueueIntact(t *testing.T) {
	var q Queue
	var s Slot
	s.SrcRank = 5
	q.Enqueue(&s)

	_, ok := q.DequeueSource(9)
	require.False(t, ok)
	require.Equal(t, 1, q.Len())
}

func TestEnqueueAfterDrainRebuildsList(t *testing.T) {
	var q Queue
	var a, b Slot
	q.Enqueue(&a)
	_, _ = q.Dequeue()
	q.Enqueue(&b)

	s, ok := q.Dequeue()
	require.True(t, ok)
	require.Same(t, &b, s)
}
