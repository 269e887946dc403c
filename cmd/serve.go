// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/observability"
	"github.com/xkilldash9x/scalpel-vapt/internal/service"
)

func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pentest HTTP API",
		Long: `Starts the HTTP API and the background scan workers. Scans are only
accepted for targets listed under scan.authorized_targets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ServerCfg.Addr = addr
			}
			return runServe(cmd.Context(), cfg, observability.GetLogger(), factory)
		},
	}

	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return serveCmd
}

// runServe blocks until ctx is cancelled, then shuts down gracefully.
func runServe(ctx context.Context, cfg config.Interface, logger *zap.Logger, factory service.ComponentFactory) error {
	logger.Info("Starting Scalpel VAPT API",
		zap.String("version", Version),
		zap.String("addr", cfg.Server().Addr),
		zap.Strings("authorized_targets", cfg.Scan().AuthorizedTargets),
	)

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	return service.Run(ctx, components, cfg.Server().ShutdownTimeout, logger)
}
