package msgqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentViewsContiguousRecords(t *testing.T) {
	buf := make([]byte, 3*RankRecordSize)
	recs, err := Segment(buf, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	recs[0].InitPool(0)
	require.Equal(t, PoolSize, recs[0].FreeQueue.Len())
	require.Equal(t, 0, recs[1].FreeQueue.Len())
}

func TestSegmentRejectsUndersizedBuffer(t *testing.T) {
	_, err := Segment(make([]byte, RankRecordSize-1), 1)
	require.Error(t, err)
}

func TestBarrierAndRVActiveAccessors(t *testing.T) {
	var rec RankRecord
	require.Equal(t, uint32(0), rec.LoadBarrier())
	rec.SetBarrier(1)
	require.Equal(t, uint32(1), rec.LoadBarrier())

	require.False(t, rec.LoadRVActive())
	rec.SetRVActive(true)
	require.True(t, rec.LoadRVActive())
	rec.SetRVActive(false)
	require.False(t, rec.LoadRVActive())
}

func TestInitPoolStampsHomeRank(t *testing.T) {
	var rec RankRecord
	rec.InitPool(7)
	s, ok := rec.FreeQueue.Dequeue()
	require.True(t, ok)
	require.Equal(t, int32(7), s.HomeRank)
	require.Equal(t, SlotFree, s.Type)
}
