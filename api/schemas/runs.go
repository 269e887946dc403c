package schemas

import (
	"time"
)

// -- Run Schemas --

// RunStatus is the lifecycle state of a scan run.
type RunStatus string

const (
	RunStatusInitializing RunStatus = "initializing"
	RunStatusRunning      RunStatus = "running"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusFailed       RunStatus = "failed"
)

// Terminal reports whether the status has no outgoing transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Phase names reported through Progress.Phase.
const (
	PhaseInitializing        = "initializing"
	PhaseAgentInitialization = "agent_initialization"
	PhaseScanning            = "scanning"
	PhaseCompleted           = "completed"
	PhaseFailed              = "failed"
)

// Progress describes how far a run has advanced.
type Progress struct {
	Phase            string   `json:"phase"`
	CompletedModules []string `json:"completed_modules"`
	TotalModules     int      `json:"total_modules"`
	Percentage       int      `json:"percentage"`
}

// ProgressDelta is applied to a run's Progress during a transition. Zero
// fields leave the current value untouched; TotalModules is a pointer so
// that zero can be set explicitly.
type ProgressDelta struct {
	Phase           string
	CompletedModule string
	TotalModules    *int
}

// ResultRef points at where a completed run's findings can be read back.
type ResultRef struct {
	Store         string          `json:"store"`
	FindingsCount int             `json:"findings_count"`
	Summary       SeveritySummary `json:"summary"`
}

// Run is a point-in-time snapshot of a scan run. Values returned from the
// registry are copies and can be read without synchronization.
type Run struct {
	ID        string     `json:"run_id"`
	Target    string     `json:"target"`
	Modules   []string   `json:"modules"`
	Status    RunStatus  `json:"status"`
	Progress  Progress   `json:"progress"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Result    *ResultRef `json:"results,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Duration is the elapsed time of the run, up to now when it is still active.
func (r Run) Duration(now time.Time) time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return now.Sub(r.StartTime)
}

// -- Event Log Schemas --

// Event types written to the event log.
const (
	EventPentestInitiated = "pentest_initiated"
	EventPentestStarted   = "pentest_started"
	EventPentestCompleted = "pentest_completed"
	EventPentestError     = "pentest_error"
	EventReportGenerated  = "report_generated"
)

// Event is an audit record for something that happened to a run.
type Event struct {
	RunID     string         `json:"run_id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
