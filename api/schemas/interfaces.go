package schemas

import (
	"context"
)

// -- Scan Collaborator --

// ScanRequest is handed to the scanner once per run.
type ScanRequest struct {
	RunID   string
	Target  string
	Modules []string
}

// ScanReporter receives a scanner's output while it runs. Implementations
// are safe for concurrent use by multiple modules.
type ScanReporter interface {
	// ReportFinding records a finding against the run.
	ReportFinding(ctx context.Context, finding Finding) error
	// ModuleCompleted marks a module as finished.
	ModuleCompleted(module string)
}

// Scanner performs the actual security assessment. The orchestrator treats it
// as opaque: it is invoked exactly once per run and either returns nil or an
// error that fails the run.
type Scanner interface {
	// Modules lists the module names the scanner understands.
	Modules() []string
	Scan(ctx context.Context, req ScanRequest, reporter ScanReporter) error
}

// -- Persistence --

// EventLog is an append-only audit trail for runs.
type EventLog interface {
	LogEvent(ctx context.Context, event Event) error
}

// ResultsStore persists findings so they can be queried after the run, and
// after a restart.
type ResultsStore interface {
	// PersistFindings saves a batch of findings.
	PersistFindings(ctx context.Context, findings []Finding) error
	// FindingsByRunID returns the findings of a run in insertion order.
	FindingsByRunID(ctx context.Context, runID string) ([]Finding, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// -- Reporting Collaborators --

// InsightRequest carries the material for an AI narrative.
type InsightRequest struct {
	Target   string
	Score    float64
	Rating   string
	Summary  SeveritySummary
	Findings []Finding
}

// InsightGenerator produces a free-text risk narrative for a report.
type InsightGenerator interface {
	GenerateInsight(ctx context.Context, req InsightRequest) (string, error)
}
