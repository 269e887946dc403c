// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/internal/api"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/findings"
	"github.com/xkilldash9x/scalpel-vapt/internal/orchestrator"
	"github.com/xkilldash9x/scalpel-vapt/internal/registry"
	"github.com/xkilldash9x/scalpel-vapt/internal/scanner"
)

// ComponentFactory creates the set of components the serve command runs.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct {
	version string
}

// NewComponentFactory creates the production factory. version is reported
// by the API and stamped into reports.
func NewComponentFactory(version string) ComponentFactory {
	return &concreteFactory{version: version}
}

// Create wires the store, findings processor, scanner, registry,
// orchestrator, report assembler and HTTP API. Nothing is started.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger.Named("service")}

	// Release what was created if a later step fails.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			_ = components.Shutdown(context.Background())
		}
	}()

	// 1. Results store
	backend, closeStore, err := InitializeStore(ctx, cfg.Database(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize results store: %w", err)
		return nil, initializationErr
	}
	components.Backend = backend
	components.closeStore = closeStore
	logger.Debug("Results store initialized.", zap.String("backend", backend.Name()))

	// 2. Findings processor
	processor := findings.NewProcessor(backend, logger, cfg.Engine())
	components.Findings = processor

	// 3. Reports
	assembler, err := InitializeAssembler(ctx, cfg, logger, f.version)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize report assembler: %w", err)
		return nil, initializationErr
	}
	components.Reports = assembler
	logger.Debug("Report assembler initialized.", zap.String("format", cfg.Report().Format))

	// 4. Orchestrator
	orch, err := orchestrator.New(cfg, logger, orchestrator.Dependencies{
		Registry:  registry.New(logger),
		Scanner:   scanner.New(cfg.Scan(), logger),
		Reports:   assembler,
		Events:    backend,
		Results:   backend,
		Sink:      processor,
		StoreName: backend.Name(),
	})
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Runs = orch
	logger.Debug("Orchestrator initialized.")

	// 5. HTTP API
	handlers := api.NewHandlers(logger, orch, backend, api.Info{
		Version:           f.version,
		StoreName:         backend.Name(),
		EstimatedDuration: cfg.Scan().EstimatedDuration,
	})
	components.API = api.NewServer(cfg.Server(), logger, handlers)

	logger.Info("All service components initialized successfully.")
	return components, nil
}
