// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/observability"
	"github.com/xkilldash9x/scalpel-vapt/internal/reporting"
	"github.com/xkilldash9x/scalpel-vapt/internal/service"
)

// storeProvider opens the results store. Tests inject a populated memory
// store in place of a live database.
type storeProvider interface {
	Create(ctx context.Context, cfg config.Interface) (schemas.ResultsStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider backed by the configured database.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (schemas.ResultsStore, func(), error) {
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (VAPT_DATABASE_URL); offline reports need persisted findings")
	}
	return service.InitializeStore(ctx, cfg.Database(), observability.GetLogger())
}

type reportOptions struct {
	runID     string
	target    string
	format    string
	outputDir string
}

func newReportCmd(provider storeProvider) *cobra.Command {
	var opts reportOptions

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a report for a finished run from the results store",
		Long: `Reads the persisted findings of a run and writes a scored report artifact,
the same one the generate_report endpoint serves. Works after a restart,
without the API running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runReport(cmd.Context(), observability.GetLogger(), cfg, opts, provider, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVar(&opts.runID, "run-id", "", "run to report on (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	reportCmd.Flags().StringVar(&opts.target, "target", "", "target URL for the report header; defaults to the one recorded with the findings")
	reportCmd.Flags().StringVarP(&opts.format, "format", "f", "", "report format: json, sarif or markdown (default from report.format)")
	reportCmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "directory for the artifact (default from report.output_dir)")
	return reportCmd
}

// runReport generates the artifact and prints its metadata as JSON.
func runReport(ctx context.Context, logger *zap.Logger, cfg *config.Config, opts reportOptions, provider storeProvider, out io.Writer) error {
	if opts.format != "" {
		cfg.ReportCfg.Format = opts.format
	}
	if opts.outputDir != "" {
		cfg.ReportCfg.OutputDir = opts.outputDir
	}
	if err := cfg.ReportCfg.Validate(); err != nil {
		return err
	}

	logger.Info("Starting report generation", zap.String("run_id", opts.runID))

	results, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	findings, err := results.FindingsByRunID(ctx, opts.runID)
	if err != nil {
		return fmt.Errorf("failed to load findings for run %s: %w", opts.runID, err)
	}
	if len(findings) == 0 {
		return fmt.Errorf("%w: no persisted findings for run %s", schemas.ErrNotFound, opts.runID)
	}

	target := opts.target
	if target == "" {
		target = findings[0].AffectedSystem
	}

	assembler, err := service.InitializeAssembler(ctx, cfg, logger, Version)
	if err != nil {
		return err
	}
	if _, err := assembler.Generate(ctx, opts.runID, target, findings); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	meta, err := assembler.Metadata(opts.runID)
	if err != nil {
		return err
	}

	logger.Info("Report successfully written to file", zap.String("path", meta.Path))
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(reportSummary{Metadata: meta, Path: meta.Path})
}

// reportSummary exposes the artifact path, which Metadata hides from API
// clients.
type reportSummary struct {
	reporting.Metadata
	Path string `json:"path"`
}
