// internal/reporting/assembler_test.go
package reporting_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/mocks"
	"github.com/xkilldash9x/scalpel-vapt/internal/reporting"
	"github.com/xkilldash9x/scalpel-vapt/internal/scoring"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newAssembler(t *testing.T, cfg config.ReportConfig, opts ...reporting.Option) (*reporting.Assembler, string) {
	t.Helper()
	dir := t.TempDir()
	cfg.OutputDir = dir
	sink, err := reporting.NewFileSink(dir)
	require.NoError(t, err)
	opts = append([]reporting.Option{reporting.WithClock(func() time.Time { return fixedNow })}, opts...)
	a, err := reporting.NewAssembler(cfg, scoring.NewDefault(), sink, zap.NewNop(), opts...)
	require.NoError(t, err)
	return a, dir
}

func readDocument(t *testing.T, path string) reporting.Document {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc reporting.Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestAssembler_GenerateWritesDeterministicPath(t *testing.T) {
	a, dir := newAssembler(t, config.ReportConfig{Format: config.FormatJSON})
	findings := []schemas.Finding{
		{ID: "1", Severity: schemas.SeverityLow, Title: "low"},
		{ID: "2", Severity: schemas.SeverityCritical, Title: "critical", CVSS: schemas.CVSS(9.1)},
		{ID: "3", Severity: schemas.SeverityInfo, Title: "info"},
		{ID: "4", Severity: schemas.SeverityHigh, Title: "high"},
	}

	path, err := a.Generate(context.Background(), "run-abc", "https://example.com", findings)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-abc-vapt-report.json"), path)

	doc := readDocument(t, path)
	assert.Equal(t, []string{"critical", "high", "low", "info"}, titles(doc.Findings))
	// 7 + 4 + 0.5 + 0.1 saturates above the 9.1 CVSS floor.
	assert.Equal(t, scoring.MaxScore, doc.Summary.OverallScore)
	assert.Equal(t, scoring.RatingCritical, doc.Summary.Rating)
	assert.Empty(t, doc.Insight, "insights disabled")

	again, err := a.Generate(context.Background(), "run-abc", "https://example.com", findings)
	require.NoError(t, err)
	assert.Equal(t, path, again)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestAssembler_EmptyFindingsProduceCleanReport(t *testing.T) {
	a, _ := newAssembler(t, config.ReportConfig{Format: config.FormatJSON, IncludeInsights: true})

	path, err := a.Generate(context.Background(), "clean-run", "https://example.com", nil)
	require.NoError(t, err)

	doc := readDocument(t, path)
	assert.Zero(t, doc.Summary.TotalFindings)
	assert.Equal(t, 0.0, doc.Summary.OverallScore)
	assert.Equal(t, scoring.RatingMinimal, doc.Summary.Rating)
	assert.Equal(t, reporting.InsightSourceTemplate, doc.InsightSource)
	assert.Contains(t, doc.Insight, "No security findings")

	meta, err := a.Metadata("clean-run")
	require.NoError(t, err)
	assert.Equal(t, reporting.Metadata{
		RunID:            "clean-run",
		Target:           "https://example.com",
		TotalFindings:    0,
		OverallRiskScore: 0,
		RiskRating:       scoring.RatingMinimal,
		Filename:         "clean-run-vapt-report.json",
		Path:             path,
		ContentType:      "application/json",
		InsightSource:    reporting.InsightSourceTemplate,
		GeneratedAt:      fixedNow,
	}, meta)
}

func TestAssembler_RejectsUnsafeRunIDs(t *testing.T) {
	a, _ := newAssembler(t, config.ReportConfig{Format: config.FormatJSON})
	for _, id := range []string{"", "../etc/passwd", "run/1", "run 1"} {
		_, err := a.Generate(context.Background(), id, "t", nil)
		assert.ErrorIs(t, err, schemas.ErrValidation, "run id %q", id)
	}
}

func TestAssembler_MetadataBeforeGenerate(t *testing.T) {
	a, _ := newAssembler(t, config.ReportConfig{Format: config.FormatJSON})
	_, err := a.Metadata("never")
	assert.ErrorIs(t, err, schemas.ErrNotFound)
}

func TestAssembler_MetadataDetectsDeletedArtifact(t *testing.T) {
	a, _ := newAssembler(t, config.ReportConfig{Format: config.FormatMarkdown})
	path, err := a.Generate(context.Background(), "run-1", "t", nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1-vapt-report.md", filepath.Base(path))

	require.NoError(t, os.Remove(path))
	_, err = a.Metadata("run-1")
	assert.ErrorIs(t, err, schemas.ErrArtifactMissing)
}

func TestAssembler_UsesAIInsight(t *testing.T) {
	gen := new(mocks.MockInsightGenerator)
	gen.On("GenerateInsight", mock.Anything, mock.MatchedBy(func(req schemas.InsightRequest) bool {
		return req.Target == "https://example.com" && req.Rating == "Medium" && req.Summary.High == 1
	})).Return("  Patch the login form.  ", nil).Once()

	a, _ := newAssembler(t, config.ReportConfig{Format: config.FormatJSON, IncludeInsights: true, InsightTimeout: time.Second},
		reporting.WithInsightGenerator(gen))

	path, err := a.Generate(context.Background(), "run-ai", "https://example.com", []schemas.Finding{
		{Severity: schemas.SeverityHigh, Title: "Password form over HTTP"},
	})
	require.NoError(t, err)

	doc := readDocument(t, path)
	assert.Equal(t, "Patch the login form.", doc.Insight)
	assert.Equal(t, reporting.InsightSourceAI, doc.InsightSource)
	gen.AssertExpectations(t)
}

func TestAssembler_FallsBackWhenInsightFails(t *testing.T) {
	gen := new(mocks.MockInsightGenerator)
	gen.On("GenerateInsight", mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))

	a, _ := newAssembler(t, config.ReportConfig{Format: config.FormatJSON, IncludeInsights: true},
		reporting.WithInsightGenerator(gen))

	path, err := a.Generate(context.Background(), "run-fallback", "https://example.com", []schemas.Finding{
		{Severity: schemas.SeverityCritical, Title: "JWT alg none", Recommendation: "Reject unsigned tokens."},
	})
	require.NoError(t, err)

	doc := readDocument(t, path)
	assert.Equal(t, reporting.InsightSourceTemplate, doc.InsightSource)
	assert.Contains(t, doc.Insight, `Prioritise "JWT alg none" first.`)
	assert.Contains(t, doc.Insight, "Reject unsigned tokens.")
}

// failingSink simulates a storage failure.
type failingSink struct{}

func (failingSink) Write(string, func(io.Writer) error) (string, error) {
	return "", errors.New("read-only file system")
}
func (failingSink) Exists(string) bool { return false }

func TestAssembler_SinkFailureIsSurfaced(t *testing.T) {
	a, err := reporting.NewAssembler(config.ReportConfig{Format: config.FormatJSON}, scoring.NewDefault(), failingSink{}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.Generate(context.Background(), "run-1", "t", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only file system")

	_, err = a.Metadata("run-1")
	assert.ErrorIs(t, err, schemas.ErrNotFound, "failed generations are not cached")
}

func TestAssembler_ConcurrentGenerate(t *testing.T) {
	a, _ := newAssembler(t, config.ReportConfig{Format: config.FormatSARIF})
	findings := []schemas.Finding{{Severity: schemas.SeverityMedium, Title: "Missing HSTS"}}

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := a.Generate(context.Background(), "run-shared", "https://example.com", findings)
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
	meta, err := a.Metadata("run-shared")
	require.NoError(t, err)
	assert.Equal(t, "run-shared-vapt-report.sarif", meta.Filename)
	assert.Equal(t, 1, meta.TotalFindings)
}

func TestNewAssembler_Validation(t *testing.T) {
	sink, err := reporting.NewFileSink(t.TempDir())
	require.NoError(t, err)

	_, err = reporting.NewAssembler(config.ReportConfig{Format: "pdf"}, scoring.NewDefault(), sink, zap.NewNop())
	assert.Error(t, err)
	_, err = reporting.NewAssembler(config.ReportConfig{}, nil, sink, zap.NewNop())
	assert.Error(t, err)
	_, err = reporting.NewAssembler(config.ReportConfig{}, scoring.NewDefault(), nil, zap.NewNop())
	assert.Error(t, err)
}
