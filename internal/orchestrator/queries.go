// internal/orchestrator/queries.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/reporting"
)

// Result sources.
const (
	SourceRegistry = "registry"
	SourceStore    = "store"
)

// Results is everything recorded for a run.
type Results struct {
	RunID    string                  `json:"run_id"`
	Target   string                  `json:"target"`
	Status   schemas.RunStatus       `json:"status,omitempty"`
	Source   string                  `json:"source"`
	Summary  schemas.SeveritySummary `json:"summary"`
	Findings []schemas.Finding       `json:"results"`
}

// ReportStatus describes whether a report exists or can be produced.
type ReportStatus struct {
	RunID             string                  `json:"run_id"`
	RunExists         bool                    `json:"run_exists"`
	ResultsExist      bool                    `json:"results_exist"`
	ReportExists      bool                    `json:"report_exists"`
	ReportFilename    string                  `json:"report_filename,omitempty"`
	Target            string                  `json:"target,omitempty"`
	TotalFindings     int                     `json:"total_findings"`
	FindingsBreakdown schemas.SeveritySummary `json:"findings_breakdown"`
	CanGenerateReport bool                    `json:"can_generate_report"`
	Timestamp         time.Time               `json:"timestamp"`
}

// Status returns a snapshot of a run.
func (o *Orchestrator) Status(runID string) (schemas.Run, error) {
	return o.deps.Registry.Get(runID)
}

// List returns every run known to this process, newest first.
func (o *Orchestrator) List() []schemas.Run {
	return o.deps.Registry.List()
}

// Results returns a run's findings. Runs unknown to the registry, typically
// from before a restart, are read back from the results store.
func (o *Orchestrator) Results(ctx context.Context, runID string) (Results, error) {
	run, err := o.deps.Registry.Get(runID)
	if err == nil {
		store, err := o.deps.Registry.Findings(runID)
		if err != nil {
			return Results{}, err
		}
		return Results{
			RunID:    runID,
			Target:   run.Target,
			Status:   run.Status,
			Source:   SourceRegistry,
			Summary:  store.Summary(),
			Findings: store.Findings(),
		}, nil
	}
	if !errors.Is(err, schemas.ErrNotFound) {
		return Results{}, err
	}

	stored, err := o.storedFindings(ctx, runID)
	if err != nil {
		return Results{}, err
	}
	return Results{
		RunID:    runID,
		Target:   targetOf(stored),
		Source:   SourceStore,
		Summary:  summarize(stored),
		Findings: stored,
	}, nil
}

// GenerateReport renders the report for a finished run and returns its
// metadata. Runs still in progress are rejected with ErrRunNotTerminal.
func (o *Orchestrator) GenerateReport(ctx context.Context, runID string) (reporting.Metadata, error) {
	target, found, err := o.reportInput(ctx, runID)
	if err != nil {
		return reporting.Metadata{}, err
	}

	path, err := o.deps.Reports.Generate(ctx, runID, target, found)
	if err != nil {
		return reporting.Metadata{}, err
	}
	meta, err := o.deps.Reports.Metadata(runID)
	if err != nil {
		return reporting.Metadata{}, err
	}

	o.logEvent(ctx, schemas.Event{
		RunID: runID,
		Type:  schemas.EventReportGenerated,
		Data: map[string]any{
			"path":               path,
			"total_findings":     meta.TotalFindings,
			"overall_risk_score": meta.OverallRiskScore,
			"risk_rating":        meta.RiskRating,
		},
	})
	return meta, nil
}

func (o *Orchestrator) reportInput(ctx context.Context, runID string) (string, []schemas.Finding, error) {
	run, err := o.deps.Registry.Get(runID)
	switch {
	case err == nil:
		if !run.Status.Terminal() {
			return "", nil, fmt.Errorf("%w: run %s is %s", schemas.ErrRunNotTerminal, runID, run.Status)
		}
		store, err := o.deps.Registry.Findings(runID)
		if err != nil {
			return "", nil, err
		}
		return run.Target, store.Findings(), nil
	case errors.Is(err, schemas.ErrNotFound):
		o.logger.Info("Run not in registry, reading findings from results store.", zap.String("run_id", runID))
		stored, err := o.storedFindings(ctx, runID)
		if err != nil {
			return "", nil, err
		}
		return targetOf(stored), stored, nil
	default:
		return "", nil, err
	}
}

// ReportStatus reports what is known about a run's report without
// generating one.
func (o *Orchestrator) ReportStatus(ctx context.Context, runID string) (ReportStatus, error) {
	status := ReportStatus{RunID: runID, Timestamp: o.now().UTC()}

	run, err := o.deps.Registry.Get(runID)
	switch {
	case err == nil:
		status.RunExists = true
		status.Target = run.Target
		store, err := o.deps.Registry.Findings(runID)
		if err != nil {
			return ReportStatus{}, err
		}
		status.FindingsBreakdown = store.Summary()
		status.ResultsExist = store.Len() > 0
		status.CanGenerateReport = run.Status.Terminal()
	case errors.Is(err, schemas.ErrNotFound):
		stored, err := o.storedFindings(ctx, runID)
		if err != nil && !errors.Is(err, schemas.ErrNotFound) {
			return ReportStatus{}, err
		}
		status.Target = targetOf(stored)
		status.FindingsBreakdown = summarize(stored)
		status.ResultsExist = len(stored) > 0
		status.CanGenerateReport = status.ResultsExist
	default:
		return ReportStatus{}, err
	}
	status.TotalFindings = status.FindingsBreakdown.Total()

	if meta, err := o.deps.Reports.Metadata(runID); err == nil {
		status.ReportExists = true
		status.ReportFilename = meta.Filename
	}
	return status, nil
}

// storedFindings reads a run's findings from the results store. An empty
// result is ErrNotFound.
func (o *Orchestrator) storedFindings(ctx context.Context, runID string) ([]schemas.Finding, error) {
	if o.deps.Results == nil {
		return nil, fmt.Errorf("%w: run %s", schemas.ErrNotFound, runID)
	}
	stored, err := o.deps.Results.FindingsByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read findings for run %s: %w", schemas.ErrCollaboratorFailure, runID, err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: no results recorded for run %s", schemas.ErrNotFound, runID)
	}
	return stored, nil
}

func targetOf(found []schemas.Finding) string {
	for _, f := range found {
		if f.AffectedSystem != "" {
			return f.AffectedSystem
		}
	}
	return ""
}

func summarize(found []schemas.Finding) schemas.SeveritySummary {
	var sum schemas.SeveritySummary
	for _, f := range found {
		sum.Add(f.Severity)
	}
	return sum
}
