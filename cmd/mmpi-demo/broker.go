package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/behrlich/mmpi/internal/fdproxy"
	"github.com/behrlich/mmpi/internal/logging"
)

func newBrokerCmd(logger *zap.SugaredLogger) *cobra.Command {
	var (
		proxyID string
		tmpDir  string
	)

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the descriptor broker standalone",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := fdproxy.NewBroker(fdproxy.Config{
				ProxyID: proxyID,
				TmpDir:  tmpDir,
				Logger:  logging.Default(),
			})
			if err != nil {
				return fmt.Errorf("start broker: %w", err)
			}

			logger.Infow("broker listening", "proxy_id", proxyID)
			if err := b.Serve(); err != nil {
				return fmt.Errorf("broker: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&proxyID, "job-id", "mmpi-demo", "job identifier the broker's socket is named after")
	cmd.Flags().StringVar(&tmpDir, "tmp-dir", "", "directory for the broker's socket (defaults to /dev/shm)")
	return cmd
}
