package hostprobe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultProberReturnsNonZeroAddresses(t *testing.T) {
	p := Default()
	require.NotZero(t, p.StackPointer())
	require.NotZero(t, p.HeapProbe())
}
