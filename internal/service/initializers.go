// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/llmclient"
	"github.com/xkilldash9x/scalpel-vapt/internal/reporting"
	"github.com/xkilldash9x/scalpel-vapt/internal/scoring"
	"github.com/xkilldash9x/scalpel-vapt/internal/store"
)

// InitializeStore connects to PostgreSQL or, when no URL is configured,
// returns the in-memory store. A configured database that cannot be reached
// is an error rather than a silent downgrade. The returned cleanup is never
// nil.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Backend, func(), error) {
	if cfg.URL == "" {
		logger.Warn("No database configured; findings are kept in memory and will be lost on exit. This is not recommended for production use.")
		return store.NewMemory(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}
	pgStore, err := store.New(connectCtx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := pgStore.EnsureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	logger.Info("Connected to PostgreSQL results store.", zap.String("host", poolConfig.ConnConfig.Host))
	cleanup := func() {
		logger.Info("Closing PostgreSQL connection pool.")
		pool.Close()
	}
	return pgStore, cleanup, nil
}

// InitializeInsightGenerator creates the AI narrative generator. Failures
// are logged and reports fall back to the summary insight.
func InitializeInsightGenerator(ctx context.Context, cfg config.Interface, logger *zap.Logger) schemas.InsightGenerator {
	if !cfg.Report().IncludeInsights {
		return nil
	}
	gen, err := llmclient.NewInsightGenerator(ctx, cfg.Agent(), logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. Reports will use summary insights.", zap.Error(err))
		return nil
	}
	return gen
}

// InitializeAssembler builds the report assembler shared by the API and the
// offline report command.
func InitializeAssembler(ctx context.Context, cfg config.Interface, logger *zap.Logger, version string) (*reporting.Assembler, error) {
	scorer, err := scoring.New(cfg.Scoring().Weights)
	if err != nil {
		return nil, err
	}
	sink, err := reporting.NewFileSink(cfg.Report().OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare report directory: %w", err)
	}
	opts := []reporting.Option{reporting.WithToolVersion(version)}
	if gen := InitializeInsightGenerator(ctx, cfg, logger); gen != nil {
		opts = append(opts, reporting.WithInsightGenerator(gen))
	}
	return reporting.NewAssembler(cfg.Report(), scorer, sink, logger, opts...)
}
