package messenger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/mmpi/internal/msgqueue"
)

// newTestMessengers builds two in-process Messengers that share one
// in-memory segment buffer but skip broker/driller wiring, enough to
// exercise the fragmented send/recv path in isolation.
func newTestMessengers(t *testing.T, nprocs int) []*Messenger {
	t.Helper()
	buf := make([]byte, nprocs*msgqueue.RankRecordSize)
	records, err := msgqueue.Segment(buf, nprocs)
	require.NoError(t, err)

	out := make([]*Messenger, nprocs)
	for r := 0; r < nprocs; r++ {
		records[r].InitPool(int32(r))
		out[r] = &Messenger{nprocs: nprocs, rank: r, records: records}
	}
	return out
}

func TestFragmentedRoundTripSmallBuffer(t *testing.T) {
	ms := newTestMessengers(t, 2)
	payload := []byte("hello, rendezvous-free world")

	require.NoError(t, ms[0].sendFragmented(1, payload))
	got, err := ms[1].Recv(0)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFragmentedRoundTripMultiFragment(t *testing.T) {
	ms := newTestMessengers(t, 2)
	payload := make([]byte, msgqueue.PayloadSize*3+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	require.NoError(t, ms[0].sendFragmented(1, payload))
	got, err := ms[1].Recv(0)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFragmentedRoundTripZeroLength(t *testing.T) {
	ms := newTestMessengers(t, 2)
	require.NoError(t, ms[0].sendFragmented(1, nil))
	got, err := ms[1].Recv(0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSlotAccountingReturnsToHomeRank(t *testing.T) {
	ms := newTestMessengers(t, 2)
	before := ms[0].records[0].FreeQueue.Len()

	payload := make([]byte, msgqueue.PayloadSize*2)
	require.NoError(t, ms[0].sendFragmented(1, payload))
	_, err := ms[1].Recv(0)
	require.NoError(t, err)

	after := ms[0].records[0].FreeQueue.Len()
	require.Equal(t, before, after)
}
