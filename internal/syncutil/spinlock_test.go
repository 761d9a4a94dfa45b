package syncutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpinLockAcquireRelease(t *testing.T) {
	var l SpinLock
	require.True(t, l.TryLock())
	require.False(t, l.TryLock(), "second TryLock before Unlock must fail")
	l.Unlock()
	require.True(t, l.TryLock())
	l.Unlock()
}

func TestSpinLockContendedAcquire(t *testing.T) {
	var l SpinLock
	var counter int
	const goroutines = 32
	const incrementsEach = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < incrementsEach; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*incrementsEach, counter)
}
