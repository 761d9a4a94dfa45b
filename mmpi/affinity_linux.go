//go:build linux

package messenger

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/behrlich/mmpi/internal/logging"
)

// pinToCPU locks the calling goroutine to its OS thread and, if cpus is
// non-empty, binds that thread to one CPU selected round-robin by rank.
// The messenger's send/recv/barrier loops spin rather than block, so a
// rank that migrates mid-spin pays a cache-cold penalty on every poll;
// pinning keeps a rank's hot loop on one core for the lifetime of the job.
func pinToCPU(rank int, cpus []int, logger *logging.Logger) {
	runtime.LockOSThread()

	if len(cpus) == 0 {
		return
	}

	cpu := cpus[rank%len(cpus)]
	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		logger.Warn("failed to set CPU affinity", "rank", rank, "cpu", cpu, "error", err)
		return
	}
	logger.Debug("pinned rank to CPU", "rank", rank, "cpu", cpu)
}
