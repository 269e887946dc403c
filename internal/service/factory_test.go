package service

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.DatabaseCfg.URL = ""
	cfg.ReportCfg.OutputDir = t.TempDir()
	cfg.AgentCfg.LLM.Provider = config.ProviderNone
	return cfg
}

func TestInitializeStore(t *testing.T) {
	t.Run("MemoryWhenUnconfigured", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		backend, cleanup, err := InitializeStore(context.Background(), config.DatabaseConfig{}, zap.New(core))
		require.NoError(t, err)
		require.NotNil(t, cleanup)
		defer cleanup()

		assert.Equal(t, store.MemoryBackendName, backend.Name())
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("InvalidURL", func(t *testing.T) {
		_, _, err := InitializeStore(context.Background(), config.DatabaseConfig{URL: "postgres://scalpel@localhost:notaport/vapt"}, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unable to parse database URL")
	})
}

func TestInitializeInsightGenerator(t *testing.T) {
	cfg := testConfig(t)
	assert.Nil(t, InitializeInsightGenerator(context.Background(), cfg, zap.NewNop()))

	cfg.AgentCfg.LLM.Provider = "mystery"
	core, logs := observer.New(zapcore.ErrorLevel)
	assert.Nil(t, InitializeInsightGenerator(context.Background(), cfg, zap.New(core)))
	assert.Equal(t, 1, logs.FilterMessage("Failed to initialize LLM client. Reports will use summary insights.").Len())

	cfg.ReportCfg.IncludeInsights = false
	assert.Nil(t, InitializeInsightGenerator(context.Background(), cfg, zap.NewNop()))
}

func TestCreate(t *testing.T) {
	t.Run("WiresInMemoryStack", func(t *testing.T) {
		c, err := NewComponentFactory("test").Create(context.Background(), testConfig(t), zap.NewNop())
		require.NoError(t, err)

		assert.Equal(t, store.MemoryBackendName, c.Backend.Name())
		assert.NotNil(t, c.Runs)
		assert.NotNil(t, c.Findings)
		assert.NotNil(t, c.API)
		assert.NotNil(t, c.Reports)

		c.Start(context.Background())
		assert.NoError(t, c.Shutdown(context.Background()))
	})

	t.Run("InvalidReportFormat", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ReportCfg.Format = "pdf"
		_, err := NewComponentFactory("test").Create(context.Background(), cfg, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize report assembler")
	})

	t.Run("UnreachableDatabase", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.DatabaseCfg.URL = "postgres://scalpel@localhost:notaport/vapt"
		_, err := NewComponentFactory("test").Create(context.Background(), cfg, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize results store")
	})
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(t)
	cfg.ServerCfg.Addr = addr
	c, err := NewComponentFactory("test").Create(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, c, 5*time.Second, zap.NewNop()) }()

	client := &http.Client{Timeout: time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
