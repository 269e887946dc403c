// File: internal/service/components.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/reporting"
)

// Backend is a results store that also records the run event log.
type Backend interface {
	schemas.ResultsStore
	schemas.EventLog
	Name() string
}

// Lifecycle is a background component with a start and a blocking stop.
type Lifecycle interface {
	Start(ctx context.Context)
	Stop()
}

// APIServer is the HTTP front end.
type APIServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Components holds everything the serve command runs, so shutdown happens
// in one place and in dependency order.
type Components struct {
	Backend  Backend
	Runs     Lifecycle // the orchestrator and its task engine
	Findings Lifecycle // the batching findings processor
	API      APIServer
	Reports  *reporting.Assembler

	closeStore func()
	logger     *zap.Logger
}

// Start launches the background workers. The HTTP server is started
// separately by the caller since it blocks.
func (c *Components) Start(ctx context.Context) {
	if c.Findings != nil {
		c.Findings.Start(ctx)
	}
	if c.Runs != nil {
		c.Runs.Start(ctx)
	}
}

// Shutdown stops the API first so no new runs arrive, then lets in-flight
// scans finish, drains pending findings to the store and closes the store.
// ctx bounds the whole sequence; a component that misses the deadline is
// abandoned and reported in the returned error.
func (c *Components) Shutdown(ctx context.Context) error {
	logger := c.log()
	logger.Debug("Beginning components shutdown sequence.")
	var errs []error

	// 1. Stop accepting requests.
	if c.API != nil {
		if err := c.API.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		} else {
			logger.Debug("HTTP API stopped.")
		}
	}

	// 2. Wait for queued and running scans. Their findings flow into the processor.
	if c.Runs != nil {
		if !timedWait(ctx, c.Runs.Stop) {
			errs = append(errs, errors.New("orchestrator did not stop before the shutdown deadline"))
		} else {
			logger.Debug("Orchestrator stopped.")
		}
	}

	// 3. Flush whatever findings are still buffered.
	if c.Findings != nil {
		if !timedWait(ctx, c.Findings.Stop) {
			errs = append(errs, errors.New("findings processor did not drain before the shutdown deadline"))
		} else {
			logger.Debug("Findings processor drained.")
		}
	}

	// 4. Close the database pool last.
	if c.closeStore != nil {
		c.closeStore()
	}

	if err := errors.Join(errs...); err != nil {
		logger.Warn("Components shut down with errors.", zap.Error(err))
		return err
	}
	logger.Info("All service components shut down successfully.")
	return nil
}

func (c *Components) log() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

// timedWait runs stop and reports whether it returned before ctx ended.
func timedWait(ctx context.Context, stop func()) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		stop()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// shutdownContext bounds a shutdown by the configured timeout, independent
// of the (usually already cancelled) run context.
func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
