// Package llmclient provides the Gemini-backed language model clients and
// the tier router used by the planning and decision agents.
package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	genai "google.golang.org/genai"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// GeminiClient wraps the official genai client for a single model. A token
// bucket limiter caps the request rate per model.
type GeminiClient struct {
	cli     *genai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is not configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is not configured")
	}

	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	limit := rate.Inf
	if cfg.MaxRPS > 0 {
		limit = rate.Limit(cfg.MaxRPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &GeminiClient{
		cli:     cli,
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		logger:  logger.Named("gemini").With(zap.String("model", cfg.Model)),
	}, nil
}

func (g *GeminiClient) Close() error { return nil }

// Generate produces a completion for the request, retrying transient API
// failures with exponential backoff. Each attempt consumes a limiter token.
func (g *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents, genCfg, err := g.buildRequest(req)
	if err != nil {
		return "", err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = g.timeout
	bo.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		startTime := time.Now()
		resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, genCfg)
		if err != nil {
			g.logger.Warn("Gemini request failed, retrying...", zap.Error(err))
			return fmt.Errorf("gemini request failed: %w", err)
		}

		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}
		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == genai.FinishReasonSafety {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason)
		}

		g.logger.Debug("LLM generation complete",
			zap.Duration("duration", time.Since(startTime)),
			zap.Bool("vision", req.ImageB64 != ""),
		)
		responseContent = candidate.Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

func (g *GeminiClient) buildRequest(req schemas.GenerationRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	parts := []*genai.Part{{Text: req.UserPrompt}}
	if req.ImageB64 != "" {
		img, err := base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode screenshot for vision request: %w", err)
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: img},
		})
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Options.Temperature)),
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.Options.ForceJSONFormat {
		genCfg.ResponseMIMEType = "application/json"
	}
	if req.Options.TopP > 0 {
		genCfg.TopP = genai.Ptr(float32(req.Options.TopP))
	}
	if req.Options.TopK > 0 {
		genCfg.TopK = genai.Ptr(float32(req.Options.TopK))
	}

	return []*genai.Content{{Role: "user", Parts: parts}}, genCfg, nil
}
