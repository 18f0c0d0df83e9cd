package perception

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// ScreenDataProvider supplies raw device observations. Implemented by the
// device bridge client.
type ScreenDataProvider interface {
	ScreenData(ctx context.Context) (*schemas.ScreenSnapshot, error)
}

// Source is the perception surface the orchestration loop depends on. Observe
// returns a fresh snapshot; Analyze answers a focused question about the
// screen using a vision-capable model. Both are side-effect-free from the
// loop's perspective.
type Source interface {
	Observe(ctx context.Context) (*schemas.ScreenSnapshot, error)
	Analyze(ctx context.Context, prompt string, snap *schemas.ScreenSnapshot) (string, error)
}

const analyzerSystemPrompt = `You are a mobile screen analyst. You receive one screenshot of a mobile device and a focused question about it.
Answer the question precisely from what is visible. Report text exactly as rendered. If the requested information is not visible, say so explicitly rather than guessing.`

// DeviceSource implements Source against a device bridge and a fast-tier
// vision model.
type DeviceSource struct {
	provider ScreenDataProvider
	vision   schemas.LLMClient
	logger   *zap.Logger
}

// NewDeviceSource creates a DeviceSource.
func NewDeviceSource(provider ScreenDataProvider, vision schemas.LLMClient, logger *zap.Logger) *DeviceSource {
	return &DeviceSource{
		provider: provider,
		vision:   vision,
		logger:   logger.Named("perception"),
	}
}

var _ Source = (*DeviceSource)(nil)

// Observe fetches the current UI hierarchy, screenshot and screen geometry.
func (s *DeviceSource) Observe(ctx context.Context) (*schemas.ScreenSnapshot, error) {
	snap, err := s.provider.ScreenData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to observe device screen: %w", err)
	}
	s.logger.Debug("Screen observed",
		zap.Int("elements", len(snap.Elements)),
		zap.Int("width", snap.Width),
		zap.Int("height", snap.Height),
		zap.String("focused_app", snap.FocusedApp))
	return snap, nil
}

// Analyze runs a deep-perception query over the snapshot's screenshot. It is
// a blocking point for the loop: the caller must not execute a batch in the
// same turn.
func (s *DeviceSource) Analyze(ctx context.Context, prompt string, snap *schemas.ScreenSnapshot) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("analysis prompt is empty")
	}
	if snap == nil || snap.ScreenshotB64 == "" {
		return "", fmt.Errorf("no screenshot available for analysis")
	}

	resp, err := s.vision.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: analyzerSystemPrompt,
		UserPrompt:   prompt,
		ImageB64:     snap.ScreenshotB64,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 1.0},
	})
	if err != nil {
		return "", fmt.Errorf("screen analysis failed: %w", err)
	}
	return strings.TrimSpace(resp), nil
}
