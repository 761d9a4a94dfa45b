package fdproxy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/mmpi/internal/wire"
)

func TestPublishLookupRoundTrip(t *testing.T) {
	d := newDirectory(4)
	k := wire.Key{Owner: 1, Local: 2}
	d.Publish(&k, 42, 7)

	fd, ok := d.Lookup(k)
	require.True(t, ok)
	require.Equal(t, 7, fd)
}

func TestPublishWithZeroOwnerAutoFills(t *testing.T) {
	d := newDirectory(4)
	k := wire.Key{Owner: 0, Local: 0}
	d.Publish(&k, 42, 7)

	require.Equal(t, int32(42), k.Owner)
	require.Equal(t, int64(7), k.Local)

	fd, ok := d.Lookup(k)
	require.True(t, ok)
	require.Equal(t, 7, fd)
}

func TestLookupMissingKeyIsAbsent(t *testing.T) {
	d := newDirectory(4)
	_, ok := d.Lookup(wire.Key{Owner: 9, Local: 9})
	require.False(t, ok)
}

func TestInvalidateThenLookupIsAbsent(t *testing.T) {
	d := newDirectory(4)
	k := wire.Key{Owner: 1, Local: 2}
	d.Publish(&k, 42, 7)

	held, ok := d.Invalidate(k)
	require.True(t, ok)
	require.Equal(t, 7, held)

	_, ok = d.Lookup(k)
	require.False(t, ok)
}

func TestRepublishWithoutInvalidateReplaces(t *testing.T) {
	d := newDirectory(4)
	k := wire.Key{Owner: 1, Local: 2}
	d.Publish(&k, 42, 7)
	d.Publish(&k, 42, 9)

	fd, ok := d.Lookup(k)
	require.True(t, ok)
	require.Equal(t, 9, fd)
}

func TestGrowPreservesEntriesBeyondInitialCapacity(t *testing.T) {
	d := newDirectory(2)
	for i := 0; i < 20; i++ {
		k := wire.Key{Owner: int32(i + 1), Local: int64(i)}
		d.Publish(&k, 42, i+100)
	}
	for i := 0; i < 20; i++ {
		fd, ok := d.Lookup(wire.Key{Owner: int32(i + 1), Local: int64(i)})
		require.True(t, ok)
		require.Equal(t, i+100, fd)
	}
}
