// File: cmd/report_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/store"
)

type stubStoreProvider struct {
	results schemas.ResultsStore
	err     error
	closed  bool
}

func (p *stubStoreProvider) Create(context.Context, config.Interface) (schemas.ResultsStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.results, func() { p.closed = true }, nil
}

func reportConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.ReportCfg.OutputDir = t.TempDir()
	cfg.AgentCfg.LLM.Provider = config.ProviderNone
	return cfg
}

func seededStore(t *testing.T, runID string) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.PersistFindings(context.Background(), []schemas.Finding{
		{ID: "f-1", RunID: runID, Module: "headers", Severity: schemas.SeverityMedium, Title: "Missing Content-Security-Policy",
			AffectedSystem: "https://juice-shop.herokuapp.com", ObservedAt: time.Now()},
		{ID: "f-2", RunID: runID, Module: "transport", Severity: schemas.SeverityHigh, Title: "HTTP Does Not Redirect to HTTPS",
			AffectedSystem: "https://juice-shop.herokuapp.com", ObservedAt: time.Now()},
	}))
	return mem
}

func TestRunReport(t *testing.T) {
	t.Run("WritesArtifact", func(t *testing.T) {
		provider := &stubStoreProvider{results: seededStore(t, "run-1")}
		var out bytes.Buffer

		err := runReport(context.Background(), zap.NewNop(), reportConfig(t), reportOptions{runID: "run-1"}, provider, &out)
		require.NoError(t, err)
		assert.True(t, provider.closed)

		var summary map[string]any
		require.NoError(t, jsoniter.Unmarshal(out.Bytes(), &summary))
		assert.Equal(t, "run-1", summary["run_id"])
		assert.Equal(t, "https://juice-shop.herokuapp.com", summary["target"])
		assert.EqualValues(t, 2, summary["total_findings"])
		assert.FileExists(t, summary["path"].(string))
	})

	t.Run("FormatOverride", func(t *testing.T) {
		provider := &stubStoreProvider{results: seededStore(t, "run-1")}
		var out bytes.Buffer
		opts := reportOptions{runID: "run-1", format: config.FormatMarkdown, target: "https://override.example"}

		require.NoError(t, runReport(context.Background(), zap.NewNop(), reportConfig(t), opts, provider, &out))
		var summary map[string]any
		require.NoError(t, jsoniter.Unmarshal(out.Bytes(), &summary))
		assert.Equal(t, "https://override.example", summary["target"])
		assert.Contains(t, summary["filename"], ".md")
	})

	t.Run("UnknownRun", func(t *testing.T) {
		provider := &stubStoreProvider{results: store.NewMemory()}
		err := runReport(context.Background(), zap.NewNop(), reportConfig(t), reportOptions{runID: "ghost"}, provider, &bytes.Buffer{})
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})

	t.Run("StoreUnavailable", func(t *testing.T) {
		provider := &stubStoreProvider{err: errors.New("connection refused")}
		err := runReport(context.Background(), zap.NewNop(), reportConfig(t), reportOptions{runID: "run-1"}, provider, &bytes.Buffer{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize store")
	})

	t.Run("InvalidFormat", func(t *testing.T) {
		provider := &stubStoreProvider{results: seededStore(t, "run-1")}
		err := runReport(context.Background(), zap.NewNop(), reportConfig(t), reportOptions{runID: "run-1", format: "pdf"}, provider, &bytes.Buffer{})
		require.Error(t, err)
	})
}
