package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"

	"github.com/c2h5oh/datasize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/behrlich/mmpi"
	"github.com/behrlich/mmpi/internal/fdproxy"
	"github.com/behrlich/mmpi/internal/wire"
)

func newRunCmd(logger *zap.SugaredLogger) *cobra.Command {
	var (
		jobID          string
		nprocs         int
		scenario       string
		segmentSizeStr string
		metricsAddr    string
		rankWorker     int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a job of N ranks and run a seed scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			var segSize datasize.ByteSize
			if err := segSize.UnmarshalText([]byte(segmentSizeStr)); err != nil {
				return fmt.Errorf("invalid --shared-segment-size %q: %w", segmentSizeStr, err)
			}

			if rankWorker >= 0 {
				return runWorker(cmd.Context(), logger, jobID, nprocs, rankWorker, scenario, metricsAddr)
			}
			return spawnWorkers(os.Args[0], jobID, nprocs, scenario, metricsAddr, logger)
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "mmpi-demo", "job identifier shared across ranks")
	cmd.Flags().IntVar(&nprocs, "nprocs", 2, "number of ranks to run")
	cmd.Flags().StringVar(&scenario, "scenario", "barrier-bench", "scenario to run: barrier-bench, descriptor-directory, invalidation")
	cmd.Flags().StringVar(&segmentSizeStr, "shared-segment-size", "1MiB", "hint for the shared segment's backing file size")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve prometheus /metrics on this address")
	cmd.Flags().IntVar(&rankWorker, "rank-worker", -1, "internal: this process is a forked rank worker")
	return cmd
}

// spawnWorkers re-execs this binary once per rank with --rank-worker
// set, and waits for all of them via errgroup, replacing the ad hoc
// goroutine+channel bookkeeping the teacher's demo used.
func spawnWorkers(self, jobID string, nprocs int, scenario, metricsAddr string, logger *zap.SugaredLogger) error {
	var g errgroup.Group
	for r := 0; r < nprocs; r++ {
		r := r
		g.Go(func() error {
			args := []string{"run",
				"--job-id", jobID,
				"--nprocs", fmt.Sprint(nprocs),
				"--scenario", scenario,
				"--rank-worker", fmt.Sprint(r),
			}
			if r == 0 && metricsAddr != "" {
				args = append(args, "--metrics-addr", metricsAddr)
			}
			cmd := exec.Command(self, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Infow("scenario completed", "scenario", scenario, "nprocs", nprocs)
	return nil
}

func runWorker(ctx context.Context, logger *zap.SugaredLogger, jobID string, nprocs, rank int, scenario, metricsAddr string) error {
	params := mmpi.DefaultParams(jobID, nprocs, rank)
	params.ForkBroker = rank == 0

	job, err := mmpi.Join(ctx, params, nil)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	defer mmpi.Leave(job)

	if rank == 0 && metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := job.Metrics().Registerer(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		go serveMetrics(metricsAddr, reg, logger)
	}

	logger.Infow("rank joined job", "rank", rank, "nprocs", nprocs, "scenario", scenario)

	switch scenario {
	case "barrier-bench":
		return runBarrierBench(job, logger)
	case "descriptor-directory":
		return runDescriptorDirectory(job, rank)
	case "invalidation":
		return runInvalidationPropagation(job, rank)
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Infow("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorw("metrics server exited", "error", err)
	}
}

// runBarrierBench drives spec.md §8 scenario 5's barrier loop: each rank
// executes K barriers back to back and logs when it is done. It keeps no
// shared counter and asserts nothing, so it does not check that a rank
// leaves a barrier only after every rank has entered it.
func runBarrierBench(job *mmpi.Job, logger *zap.SugaredLogger) error {
	const iterations = 100
	for i := 0; i < iterations; i++ {
		job.Barrier()
	}
	logger.Infow("barrier bench complete", "rank", job.Rank(), "iterations", iterations)
	return nil
}

// runDescriptorDirectory implements spec.md §8 scenario 4: rank 0
// publishes its own stdout descriptor under a well-known id; every
// other rank looks it up, writes a line, and closes its handle; rank 0
// then invalidates and all subsequent lookups must miss.
func runDescriptorDirectory(job *mmpi.Job, rank int) error {
	const wellKnownID = 0x123
	key := wire.Key{Owner: fdproxy.WellKnownOwner, Local: wellKnownID}

	if rank == 0 {
		if err := job.Broker().Publish(&key, int(os.Stdout.Fd())); err != nil {
			return fmt.Errorf("rank 0: publish stdout descriptor: %w", err)
		}
	}
	job.Barrier()

	if rank != 0 {
		fd, err := job.Broker().Lookup(key)
		if err != nil {
			return fmt.Errorf("rank %d: lookup descriptor: %w", rank, err)
		}
		if fd < 0 {
			return fmt.Errorf("rank %d: descriptor 0x%x not yet published", rank, wellKnownID)
		}
		f := os.NewFile(uintptr(fd), "mmpi-demo-stdout")
		if _, err := fmt.Fprintf(f, "rank %d says hello through the published descriptor\n", rank); err != nil {
			f.Close()
			return fmt.Errorf("rank %d: write to published descriptor: %w", rank, err)
		}
		f.Close()
	}
	job.Barrier()

	if rank == 0 {
		if err := job.Broker().Invalidate(key); err != nil {
			return fmt.Errorf("rank 0: invalidate descriptor: %w", err)
		}
	}
	job.Barrier()

	fd, err := job.Broker().Lookup(key)
	if err != nil {
		return fmt.Errorf("rank %d: post-invalidate lookup: %w", rank, err)
	}
	if fd != -1 {
		return fmt.Errorf("rank %d: descriptor 0x%x still resolves after invalidation", rank, wellKnownID)
	}
	return nil
}

// runInvalidationPropagation covers the send half of spec.md §8 scenario
// 6: between two barriers, rank 1 sends a 4 MiB buffer to rank
// 2 % nprocs, which receives it. It does not unmap the sent region
// afterwards and does not check for an RV-INVALIDATE or a later lookup
// miss.
func runInvalidationPropagation(job *mmpi.Job, rank int) error {
	const size = 4 << 20
	job.Barrier()

	switch rank {
	case 1:
		buf := make([]byte, size)
		if err := job.Send(2%job.NProcs(), buf); err != nil {
			return err
		}
	case 2 % job.NProcs():
		if _, err := job.Recv(1); err != nil {
			return err
		}
	}

	job.Barrier()
	return nil
}
