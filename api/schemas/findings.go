package schemas

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// -- Finding Schemas --

// Severity represents the severity level of a security finding, ranging from
// critical to informational. The values are lowercase to align with the
// `findings.severity` column.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities from most to least severe.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Severities lists every severity, most severe first.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// Rank returns the sort position of the severity (0 is Critical). Unknown
// values sort after Info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// Valid reports whether s is one of the fixed severity levels.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// ParseSeverity normalizes a free-form severity label. "Informational" is
// accepted as an alias for info.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s == "informational" {
		s = SeverityInfo
	}
	if !s.Valid() {
		return "", &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", raw)}
	}
	return s, nil
}

// Finding is a single security observation produced by a scan module. It maps
// directly to the `findings` table.
type Finding struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`

	// Module is the scan module (tool) that reported the finding.
	Module string `json:"tool"`

	Severity       Severity `json:"severity"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
	AffectedSystem string   `json:"affected_system"`
	Impact         string   `json:"impact,omitempty"`

	// CVSS is nil when no base score applies ("N/A").
	CVSS *float64 `json:"cvss,omitempty"`

	Evidence   json.RawMessage `json:"evidence,omitempty"`
	CWE        []string        `json:"cwe,omitempty"`
	ObservedAt time.Time       `json:"timestamp"`
}

// Validate rejects malformed findings at ingestion.
func (f Finding) Validate() error {
	if !f.Severity.Valid() {
		return &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", f.Severity)}
	}
	if strings.TrimSpace(f.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if f.CVSS != nil {
		v := *f.CVSS
		if math.IsNaN(v) || v < 0 || v > 10 {
			return &ValidationError{Field: "cvss", Reason: fmt.Sprintf("%v is outside [0,10]", v)}
		}
	}
	if len(f.Evidence) > 0 && !json.Valid(f.Evidence) {
		return &ValidationError{Field: "evidence", Reason: "must be valid JSON"}
	}
	return nil
}

// CVSSLabel renders the score the way reports print it.
func (f Finding) CVSSLabel() string {
	if f.CVSS == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1f", *f.CVSS)
}

// CVSS returns a pointer to v, for building findings.
func CVSS(v float64) *float64 {
	return &v
}

// SeveritySummary counts findings per severity level.
type SeveritySummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Add increments the counter for sev. Unknown severities are ignored.
func (s *SeveritySummary) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		s.Critical++
	case SeverityHigh:
		s.High++
	case SeverityMedium:
		s.Medium++
	case SeverityLow:
		s.Low++
	case SeverityInfo:
		s.Info++
	}
}

// Count returns the counter for sev.
func (s SeveritySummary) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	case SeverityInfo:
		return s.Info
	}
	return 0
}

// Total is the sum of all counters.
func (s SeveritySummary) Total() int {
	return s.Critical + s.High + s.Medium + s.Low + s.Info
}

// Summarize builds a summary from a list of findings.
func Summarize(findings []Finding) SeveritySummary {
	var s SeveritySummary
	for _, f := range findings {
		s.Add(f.Severity)
	}
	return s
}
