//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/behrlich/mmpi"
)

// requireLinux skips the test on platforms without the mmap/unix
// primitives the messenger depends on.
func requireLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("mmpi requires Linux (mmap, SCM_RIGHTS, mremap)")
	}
}

// requireSharedMemFS warns if /dev/shm is missing; the messenger falls
// back to os.TempDir so the test still runs, just without tmpfs.
func requireSharedMemFS(t *testing.T) {
	if _, err := os.Stat("/dev/shm"); os.IsNotExist(err) {
		t.Log("/dev/shm not available, falling back to os.TempDir")
	}
}

// runRanks joins nprocs ranks concurrently and runs fn on each, failing
// the test if any rank returns an error. Rank 0 forks the descriptor
// broker in-process so the test needs no separate broker binary.
func runRanks(t *testing.T, jobID string, nprocs int, fn func(job *mmpi.Job) error) {
	t.Helper()

	type result struct {
		rank int
		err  error
	}
	results := make(chan result, nprocs)

	for r := 0; r < nprocs; r++ {
		go func(rank int) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			params := mmpi.DefaultParams(jobID, nprocs, rank)
			params.ForkBroker = rank == 0

			job, err := mmpi.Join(ctx, params, nil)
			if err != nil {
				results <- result{rank, fmt.Errorf("join: %w", err)}
				return
			}
			defer mmpi.Leave(job)

			results <- result{rank, fn(job)}
		}(r)
	}

	for i := 0; i < nprocs; i++ {
		res := <-results
		if res.err != nil {
			t.Errorf("rank %d: %v", res.rank, res.err)
		}
	}
}

func TestIntegrationHeapTransfer(t *testing.T) {
	requireLinux(t)
	requireSharedMemFS(t)

	const size = 8 << 20
	runRanks(t, "it-heap-transfer", 2, func(job *mmpi.Job) error {
		job.Barrier()
		switch job.Rank() {
		case 1:
			buf := make([]byte, size)
			for i := range buf {
				buf[i] = byte(i % 251)
			}
			if err := job.Send(0, buf); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		case 0:
			got, err := job.Recv(1)
			if err != nil {
				return fmt.Errorf("recv: %w", err)
			}
			if len(got) != size {
				return fmt.Errorf("got %d bytes, want %d", len(got), size)
			}
			for i, b := range got {
				if b != byte(i%251) {
					return fmt.Errorf("byte %d mismatch: got %d want %d", i, b, i%251)
				}
			}
		}
		job.Barrier()
		return nil
	})
}

func TestIntegrationBarrierFanIn(t *testing.T) {
	requireLinux(t)
	requireSharedMemFS(t)

	runRanks(t, "it-barrier-fanin", 4, func(job *mmpi.Job) error {
		for i := 0; i < 20; i++ {
			job.Barrier()
		}
		return nil
	})
}

func TestIntegrationStackGrowthOnDemand(t *testing.T) {
	requireLinux(t)
	requireSharedMemFS(t)

	runRanks(t, "it-stack-growth", 1, func(job *mmpi.Job) error {
		const target = 4 << 20
		var consumed int
		for consumed < target {
			if _, err := job.Driller().ReserveSlice(1024); err != nil {
				return fmt.Errorf("reserve at %d bytes consumed: %w", consumed, err)
			}
			consumed += 1024
		}
		return nil
	})
}

func TestIntegrationMetricsReflectTraffic(t *testing.T) {
	requireLinux(t)
	requireSharedMemFS(t)

	runRanks(t, "it-metrics", 2, func(job *mmpi.Job) error {
		job.Barrier()
		switch job.Rank() {
		case 1:
			if err := job.Send(0, make([]byte, 1024)); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		case 0:
			if _, err := job.Recv(1); err != nil {
				return fmt.Errorf("recv: %w", err)
			}
			snap := job.MetricsSnapshot()
			if snap.RecvOps == 0 {
				return fmt.Errorf("expected RecvOps > 0, got %d", snap.RecvOps)
			}
		}
		job.Barrier()
		return nil
	})
}
