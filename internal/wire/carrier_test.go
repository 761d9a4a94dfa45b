package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCarrierRoundTrip(t *testing.T) {
	c := Carrier{Magic: Magic, Type: ReqKey, Key: Key{Owner: 7, Local: -42}}
	got, err := Unmarshal(c.Marshal())
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	c := Carrier{Magic: 0xdeadbeef, Type: NewKey}
	_, err := Unmarshal(c.Marshal())
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	_, err := Unmarshal(make([]byte, CarrierSize-1))
	require.ErrorIs(t, err, ErrShortCarrier)
}

func TestKeyString(t *testing.T) {
	require.Equal(t, "3/-9", Key{Owner: 3, Local: -9}.String())
}
