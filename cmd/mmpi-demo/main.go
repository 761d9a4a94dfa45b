// Command mmpi-demo drives an mmpi job from the command line: it can
// fork N local rank processes running one of the seed scenarios, or run
// the descriptor broker standalone for a multi-host-style demo.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mmpi-demo: failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	root := newRootCmd(sugar)
	if err := root.Execute(); err != nil {
		sugar.Errorw("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *zap.SugaredLogger) *cobra.Command {
	root := &cobra.Command{
		Use:   "mmpi-demo",
		Short: "Run mmpi shared-memory messenger demos",
	}

	root.AddCommand(newRunCmd(logger))
	root.AddCommand(newBrokerCmd(logger))
	return root
}
