// File: internal/service/run.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Run starts the components and serves the API until ctx is cancelled or
// the server fails, then shuts everything down within shutdownTimeout.
func Run(ctx context.Context, c *Components, shutdownTimeout time.Duration, logger *zap.Logger) error {
	c.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- c.API.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received.")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("api server stopped: %w", err)
		}
	}

	shutdownCtx, cancel := shutdownContext(shutdownTimeout)
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
