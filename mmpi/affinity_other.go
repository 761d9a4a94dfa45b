//go:build !linux

package messenger

import "github.com/behrlich/mmpi/internal/logging"

// pinToCPU is a no-op on non-Linux hosts; SchedSetaffinity has no portable
// equivalent and the messenger still functions correctly without pinning.
func pinToCPU(rank int, cpus []int, logger *logging.Logger) {}
