// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Scan() config.ScanConfig {
	args := m.Called()
	return args.Get(0).(config.ScanConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	args := m.Called()
	return args.Get(0).(config.ReportConfig)
}

func (m *MockConfig) Scoring() config.ScoringConfig {
	args := m.Called()
	return args.Get(0).(config.ScoringConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

// -- Collaborator Mocks --

// MockScanner mocks schemas.Scanner. Use .Run on the Scan expectation to
// drive the reporter from a test.
type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) Modules() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockScanner) Scan(ctx context.Context, req schemas.ScanRequest, reporter schemas.ScanReporter) error {
	args := m.Called(ctx, req, reporter)
	return args.Error(0)
}

// MockEventLog mocks schemas.EventLog.
type MockEventLog struct {
	mock.Mock
}

func (m *MockEventLog) LogEvent(ctx context.Context, event schemas.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockResultsStore mocks schemas.ResultsStore.
type MockResultsStore struct {
	mock.Mock
}

func (m *MockResultsStore) PersistFindings(ctx context.Context, findings []schemas.Finding) error {
	args := m.Called(ctx, findings)
	return args.Error(0)
}

func (m *MockResultsStore) FindingsByRunID(ctx context.Context, runID string) ([]schemas.Finding, error) {
	args := m.Called(ctx, runID)
	if f, ok := args.Get(0).([]schemas.Finding); ok {
		return f, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockResultsStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockInsightGenerator mocks schemas.InsightGenerator.
type MockInsightGenerator struct {
	mock.Mock
}

func (m *MockInsightGenerator) GenerateInsight(ctx context.Context, req schemas.InsightRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
