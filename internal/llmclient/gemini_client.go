// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/llmutil"
)

// contentGenerator is the slice of the genai Models service the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient writes report risk narratives with Google Gemini.
type GeminiClient struct {
	models     contentGenerator
	cfg        config.LLMModelConfig
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("Gemini model is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APITimeout > 0 {
		timeout := cfg.APITimeout
		clientCfg.HTTPOptions.Timeout = &timeout
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newGeminiClient(client.Models, cfg, logger), nil
}

func newGeminiClient(models contentGenerator, cfg config.LLMModelConfig, logger *zap.Logger) *GeminiClient {
	return &GeminiClient{
		models: models,
		cfg:    cfg,
		logger: logger.Named("llm_client.gemini"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// GenerateInsight asks the model for a narrative, retrying transient failures.
func (c *GeminiClient) GenerateInsight(ctx context.Context, req schemas.InsightRequest) (string, error) {
	prompt := buildInsightPrompt(req)
	genCfg := c.generationConfig()

	var b backoff.BackOff = c.newBackOff()
	if c.cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries))
	}

	var insight string
	operation := func() error {
		startTime := time.Now()
		resp, err := c.models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), genCfg)
		duration := time.Since(startTime)
		if err != nil {
			return c.classifyError(err)
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := resp.Candidates[0]
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content (Reason: %s)", candidate.FinishReason)
		}

		fields := []zap.Field{zap.Duration("duration", duration)}
		if usage := resp.UsageMetadata; usage != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", usage.PromptTokenCount),
				zap.Int32("completion_tokens", usage.CandidatesTokenCount),
				zap.Int32("total_tokens", usage.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)

		insight = llmutil.CleanNarrative(text)
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("%w: gemini insight: %v", schemas.ErrCollaboratorFailure, err)
	}
	return insight, nil
}

func (c *GeminiClient) generationConfig() *genai.GenerateContentConfig {
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(c.cfg.Temperature),
	}
	if c.cfg.TopP > 0 {
		genCfg.TopP = genai.Ptr(c.cfg.TopP)
	}
	if c.cfg.TopK > 0 {
		genCfg.TopK = genai.Ptr(float32(c.cfg.TopK))
	}
	if c.cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	return genCfg
}

// classifyError marks everything except rate limiting and server-side
// failures as permanent.
func (c *GeminiClient) classifyError(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	switch code {
	case 0:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return err
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		c.logger.Warn("Transient Gemini API error, retrying...", zap.Int("status", code), zap.Error(err))
		return err
	default:
		c.logger.Error("Gemini API returned error status", zap.Int("status", code), zap.Error(err))
		return backoff.Permanent(err)
	}
}
