// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
)

// NewInsightGenerator creates the narrative generator for the configured
// provider. It returns nil, without error, when AI insights are disabled or
// no API key is available; reports then use the summary insight.
func NewInsightGenerator(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.InsightGenerator, error) {
	switch cfg.LLM.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderGemini:
		if cfg.LLM.APIKey == "" {
			logger.Warn("No Gemini API key configured, reports will use summary insights.")
			return nil, nil
		}
		return NewGeminiClient(ctx, cfg.LLM, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.LLM.Provider, config.ProviderGemini, config.ProviderNone)
	}
}
