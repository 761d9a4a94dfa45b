//go:build linux

package driller

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/behrlich/mmpi/internal/logging"
)

var sigsegvOnce sync.Once

// installSigsegvObserver installs a best-effort diagnostic SIGSEGV
// observer. Unlike the C original's handler, it cannot grow a faulting
// stack and resume — see the design note on stackState — so it only logs
// the fault, restores the default disposition, and re-raises, letting
// the runtime crash and produce its usual fatal signal report.
func installSigsegvObserver(logger *logging.Logger) {
	sigsegvOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGSEGV)
		go func() {
			<-ch
			logger.Error("SIGSEGV observed; mmpi cannot resume the faulting instruction, re-raising")
			signal.Stop(ch)
			signal.Reset(syscall.SIGSEGV)
			_ = syscall.Kill(os.Getpid(), syscall.SIGSEGV)
		}()
	})
}
