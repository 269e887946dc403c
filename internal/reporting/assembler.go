// internal/reporting/assembler.go
package reporting

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/scoring"
)

// reportSuffix is appended to the run ID to form the artifact name.
const reportSuffix = "-vapt-report"

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Metadata describes a generated artifact. It is cached per run after the
// first successful Generate.
type Metadata struct {
	RunID            string         `json:"run_id"`
	Target           string         `json:"target"`
	TotalFindings    int            `json:"total_findings"`
	OverallRiskScore float64        `json:"overall_risk_score"`
	RiskRating       scoring.Rating `json:"risk_rating"`
	Filename         string         `json:"filename"`
	Path             string         `json:"-"`
	ContentType      string         `json:"content_type"`
	InsightSource    string         `json:"insight_source,omitempty"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithInsightGenerator enables AI narratives. Without one, or when it fails,
// a summary built from the findings is used.
func WithInsightGenerator(g schemas.InsightGenerator) Option {
	return func(a *Assembler) { a.insights = g }
}

// WithClock overrides the time source stamped on documents.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithToolVersion records the producing build in the artifact.
func WithToolVersion(v string) Option {
	return func(a *Assembler) { a.toolVersion = v }
}

// Assembler turns a run's findings into a scored report artifact.
type Assembler struct {
	cfg         config.ReportConfig
	scorer      *scoring.Scorer
	encoder     Encoder
	sink        Sink
	insights    schemas.InsightGenerator
	toolVersion string
	now         func() time.Time
	logger      *zap.Logger

	inflight singleflight.Group

	mu       sync.RWMutex
	metadata map[string]Metadata
}

// NewAssembler wires an assembler for the configured format.
func NewAssembler(cfg config.ReportConfig, scorer *scoring.Scorer, sink Sink, logger *zap.Logger, opts ...Option) (*Assembler, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	encoder, err := NewEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	a := &Assembler{
		cfg:      cfg,
		scorer:   scorer,
		encoder:  encoder,
		sink:     sink,
		now:      time.Now,
		logger:   logger.Named("reporting"),
		metadata: make(map[string]Metadata),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Filename is the deterministic artifact name for a run.
func (a *Assembler) Filename(runID string) string {
	return runID + reportSuffix + "." + a.encoder.Extension()
}

// Generate scores findings, renders the document and writes the artifact.
// An empty finding set yields a clean report. Concurrent calls for the same
// run share a single generation.
func (a *Assembler) Generate(ctx context.Context, runID, target string, findings []schemas.Finding) (string, error) {
	if !runIDPattern.MatchString(runID) {
		return "", &schemas.ValidationError{Field: "run_id", Reason: "must match [A-Za-z0-9_-]"}
	}

	v, err, shared := a.inflight.Do(runID, func() (interface{}, error) {
		return a.generate(ctx, runID, target, findings)
	})
	if err != nil {
		return "", err
	}
	meta := v.(Metadata)
	if shared {
		a.logger.Debug("Joined in-flight report generation.", zap.String("run_id", runID))
	}
	return meta.Path, nil
}

func (a *Assembler) generate(ctx context.Context, runID, target string, findings []schemas.Finding) (Metadata, error) {
	start := a.now()
	assessment := a.scorer.ScoreFindings(findings)
	doc := BuildDocument(runID, target, findings, assessment, start)
	doc.ToolVersion = a.toolVersion

	if a.cfg.IncludeInsights {
		doc.Insight, doc.InsightSource = a.insight(ctx, doc)
	}

	path, err := a.sink.Write(a.Filename(runID), func(w io.Writer) error {
		return a.encoder.Encode(w, doc)
	})
	if err != nil {
		a.logger.Error("Report generation failed.", zap.String("run_id", runID), zap.Error(err))
		return Metadata{}, fmt.Errorf("failed to write report for run %s: %w", runID, err)
	}

	meta := Metadata{
		RunID:            runID,
		Target:           target,
		TotalFindings:    doc.Summary.TotalFindings,
		OverallRiskScore: assessment.OverallScore,
		RiskRating:       assessment.Rating,
		Filename:         a.Filename(runID),
		Path:             path,
		ContentType:      a.encoder.ContentType(),
		InsightSource:    doc.InsightSource,
		GeneratedAt:      doc.GeneratedAt,
	}
	a.mu.Lock()
	a.metadata[runID] = meta
	a.mu.Unlock()

	a.logger.Info("Report generated.",
		zap.String("run_id", runID),
		zap.String("path", path),
		zap.Int("findings", meta.TotalFindings),
		zap.Float64("risk_score", meta.OverallRiskScore),
		zap.String("rating", string(meta.RiskRating)),
		zap.Duration("duration", a.now().Sub(start)),
	)
	return meta, nil
}

// insight asks the generator for a narrative and falls back to the built-in
// summary when it is missing, slow or failing.
func (a *Assembler) insight(ctx context.Context, doc *Document) (string, string) {
	if a.insights != nil {
		insightCtx := ctx
		if a.cfg.InsightTimeout > 0 {
			var cancel context.CancelFunc
			insightCtx, cancel = context.WithTimeout(ctx, a.cfg.InsightTimeout)
			defer cancel()
		}
		text, err := a.insights.GenerateInsight(insightCtx, schemas.InsightRequest{
			Target:   doc.Target,
			Score:    doc.Summary.OverallScore,
			Rating:   string(doc.Summary.Rating),
			Summary:  doc.Summary.SeverityCounts,
			Findings: doc.Findings,
		})
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), InsightSourceAI
		}
		a.logger.Warn("AI insight unavailable, using summary insight.", zap.String("run_id", doc.RunID), zap.Error(err))
	}
	return SummaryInsight(doc), InsightSourceTemplate
}

// Metadata returns the cached metadata for a run's last successful report.
// It returns ErrNotFound when none exists or the artifact has since vanished.
func (a *Assembler) Metadata(runID string) (Metadata, error) {
	a.mu.RLock()
	meta, ok := a.metadata[runID]
	a.mu.RUnlock()
	if !ok {
		return Metadata{}, fmt.Errorf("%w: no report generated for run %s", schemas.ErrNotFound, runID)
	}
	if !a.sink.Exists(meta.Path) {
		return Metadata{}, fmt.Errorf("%w: %s", schemas.ErrArtifactMissing, meta.Path)
	}
	return meta, nil
}

// SummaryInsight is the deterministic narrative used without an AI backend.
func SummaryInsight(doc *Document) string {
	counts := doc.Summary.SeverityCounts
	if doc.Summary.TotalFindings == 0 {
		return fmt.Sprintf("No security findings were recorded for %s. The overall risk is %s (%.2f/10). "+
			"Continue routine assessments to confirm the posture holds.", doc.Target, doc.Summary.Rating, doc.Summary.OverallScore)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The assessment of %s recorded %d finding(s) for an overall risk of %s (%.2f/10).",
		doc.Target, doc.Summary.TotalFindings, doc.Summary.Rating, doc.Summary.OverallScore)

	var parts []string
	for _, sev := range schemas.Severities() {
		if n := counts.Count(sev); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	fmt.Fprintf(&b, " Breakdown: %s.", strings.Join(parts, ", "))

	if top := doc.Findings[0]; top.Severity.Rank() <= schemas.SeverityHigh.Rank() {
		fmt.Fprintf(&b, " Prioritise %q first.", top.Title)
	}
	if len(doc.Recommendations) > 0 {
		fmt.Fprintf(&b, " Start remediation with: %s", doc.Recommendations[0].Text)
	}
	return b.String()
}
