// internal/reporting/document.go
package reporting

import (
	"sort"
	"strings"
	"time"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/scoring"
)

// Insight sources recorded on a document.
const (
	InsightSourceAI       = "ai"
	InsightSourceTemplate = "template"
)

// ExecutiveSummary is the headline section of a report.
type ExecutiveSummary struct {
	TotalFindings  int                     `json:"total_findings"`
	SeverityCounts schemas.SeveritySummary `json:"severity_counts"`
	scoring.Assessment
}

// Recommendation is one deduplicated remediation item. Severity is the
// highest severity among the findings that share it.
type Recommendation struct {
	Severity schemas.Severity `json:"severity"`
	Text     string           `json:"text"`
	Findings []string         `json:"findings"`
}

// Document is the structured report for a single run.
type Document struct {
	RunID           string            `json:"run_id"`
	Target          string            `json:"target"`
	GeneratedAt     time.Time         `json:"generated_at"`
	ToolVersion     string            `json:"tool_version,omitempty"`
	Summary         ExecutiveSummary  `json:"executive_summary"`
	Findings        []schemas.Finding `json:"findings"`
	Recommendations []Recommendation  `json:"recommendations"`
	Insight         string            `json:"insight,omitempty"`
	InsightSource   string            `json:"insight_source,omitempty"`
}

// SortFindings returns a copy ordered by severity rank, most severe first.
// Findings of equal severity keep their input order.
func SortFindings(findings []schemas.Finding) []schemas.Finding {
	sorted := make([]schemas.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() < sorted[j].Severity.Rank()
	})
	return sorted
}

// BuildDocument assembles the report body. findings must already be in
// insertion order; the assessment is embedded as given.
func BuildDocument(runID, target string, findings []schemas.Finding, assessment scoring.Assessment, generatedAt time.Time) *Document {
	sorted := SortFindings(findings)
	return &Document{
		RunID:       runID,
		Target:      target,
		GeneratedAt: generatedAt.UTC(),
		Summary: ExecutiveSummary{
			TotalFindings:  len(sorted),
			SeverityCounts: schemas.Summarize(sorted),
			Assessment:     assessment,
		},
		Findings:        sorted,
		Recommendations: collectRecommendations(sorted),
	}
}

// collectRecommendations dedupes remediation text across sorted findings,
// case and whitespace insensitive.
func collectRecommendations(sorted []schemas.Finding) []Recommendation {
	recs := []Recommendation{}
	index := make(map[string]int)
	for _, f := range sorted {
		text := strings.TrimSpace(f.Recommendation)
		if text == "" {
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(text), " "))
		if i, ok := index[key]; ok {
			recs[i].Findings = append(recs[i].Findings, f.Title)
			continue
		}
		index[key] = len(recs)
		recs = append(recs, Recommendation{Severity: f.Severity, Text: text, Findings: []string{f.Title}})
	}
	return recs
}
