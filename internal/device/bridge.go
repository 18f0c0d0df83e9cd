// Package device talks to the hardware bridge that front-ends the physical
// or emulated device. Commands are submitted one step at a time to the
// bridge's run-command endpoint as YAML payloads; screen state comes from a
// separate screen API service.
package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/perception"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key names accepted by the bridge's pressKey command.
const (
	KeyEnter = "Enter"
	KeyHome  = "Home"
	KeyBack  = "Back"
)

// Bridge is the HTTP client for the device hardware bridge and its
// companion screen API. All command methods block until the bridge
// acknowledges the step or the context is cancelled.
type Bridge struct {
	httpClient *http.Client
	bridgeURL  string
	screenURL  string
	settle     time.Duration
	logger     *zap.Logger
}

func NewBridge(cfg config.DeviceConfig, logger *zap.Logger) *Bridge {
	return &Bridge{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		bridgeURL:  strings.TrimRight(cfg.BridgeURL, "/"),
		screenURL:  strings.TrimRight(cfg.ScreenAPIURL, "/"),
		settle:     cfg.SettleDelay,
		logger:     logger.Named("device"),
	}
}

// CommandError is a definitive rejection from the bridge. It is not retried.
type CommandError struct {
	StatusCode int
	Body       string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("bridge rejected command: status %d, body: %s", e.StatusCode, e.Body)
}

type runCommandPayload struct {
	YAML   string `json:"yaml"`
	DryRun bool   `json:"dryRun"`
}

// runFlow submits each step to the bridge in order, stopping at the first
// failure. A step is either a bare string command or a single-key map.
func (b *Bridge) runFlow(ctx context.Context, steps ...any) error {
	for _, step := range steps {
		if err := b.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) runStep(ctx context.Context, step any) error {
	stepYAML, err := yaml.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to encode command step: %w", err)
	}

	body, err := json.Marshal(runCommandPayload{YAML: string(stepYAML)})
	if err != nil {
		return fmt.Errorf("failed to marshal command payload: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	bo.MaxInterval = 5 * time.Second

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.bridgeURL+"/run-command", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create bridge request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.httpClient.Do(req)
		if err != nil {
			b.logger.Warn("Bridge unreachable, retrying...", zap.Error(err))
			return fmt.Errorf("failed to reach bridge: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read bridge response: %w", err)
		}

		if resp.StatusCode >= 300 {
			cmdErr := &CommandError{StatusCode: resp.StatusCode, Body: string(respBody)}
			switch resp.StatusCode {
			case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
				return cmdErr // Transient, retry.
			default:
				return backoff.Permanent(cmdErr)
			}
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}

	b.logger.Debug("Bridge command completed", zap.String("step", strings.TrimSpace(string(stepYAML))))
	return nil
}

// screenInfoResponse mirrors the screen API's /screen-info payload.
type screenInfoResponse struct {
	Base64         string       `json:"base64"`
	Elements       []screenNode `json:"elements"`
	Hierarchy      string       `json:"hierarchy"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	Platform       string       `json:"platform"`
	FocusedAppInfo string       `json:"focusedAppInfo"`
}

type screenNode struct {
	ResourceID        string       `json:"resource-id"`
	Text              string       `json:"text"`
	AccessibilityText string       `json:"accessibilityText"`
	Class             string       `json:"class"`
	Bounds            string       `json:"bounds"`
	Focused           bool         `json:"focused"`
	Clickable         bool         `json:"clickable"`
	Children          []screenNode `json:"children"`
}

func (n screenNode) toElement() schemas.UIElement {
	el := schemas.UIElement{
		ResourceID: n.ResourceID,
		Text:       n.Text,
		Class:      n.Class,
		Focused:    n.Focused,
		Clickable:  n.Clickable,
	}
	if el.Text == "" {
		el.Text = n.AccessibilityText
	}
	if b, ok := perception.ParseBounds(n.Bounds); ok {
		el.Bounds = b
	}
	for _, child := range n.Children {
		el.Children = append(el.Children, child.toElement())
	}
	return el
}

// ScreenData fetches the current screen state: screenshot, element
// hierarchy and display geometry.
func (b *Bridge) ScreenData(ctx context.Context) (*schemas.ScreenSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.screenURL+"/screen-info", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create screen request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach screen API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read screen response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &CommandError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var info screenInfoResponse
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("failed to decode screen payload: %w", err)
	}

	snap := &schemas.ScreenSnapshot{
		TakenAt:       time.Now().UTC(),
		Width:         info.Width,
		Height:        info.Height,
		ScreenshotB64: info.Base64,
		Platform:      info.Platform,
		FocusedApp:    info.FocusedAppInfo,
	}
	// Android bridges may ship the raw uiautomator dump instead of (or
	// alongside) pre-parsed elements. The dump is authoritative when no
	// elements are present.
	if len(info.Elements) == 0 && info.Hierarchy != "" {
		elements, err := perception.ParseHierarchy([]byte(info.Hierarchy))
		if err != nil {
			return nil, fmt.Errorf("failed to parse screen hierarchy: %w", err)
		}
		snap.Elements = elements
		return snap, nil
	}
	for _, node := range info.Elements {
		snap.Elements = append(snap.Elements, node.toElement())
	}
	return snap, nil
}

func pointArg(p schemas.Point) string {
	return fmt.Sprintf("%d,%d", p.X, p.Y)
}

func (b *Bridge) Tap(ctx context.Context, p schemas.Point) error {
	return b.runFlow(ctx, map[string]any{"tapOn": map[string]any{"point": pointArg(p)}})
}

func (b *Bridge) LongPress(ctx context.Context, p schemas.Point) error {
	return b.runFlow(ctx, map[string]any{"longPressOn": map[string]any{"point": pointArg(p)}})
}

// Swipe drags from start to end over the given duration.
func (b *Bridge) Swipe(ctx context.Context, start, end schemas.Point, duration time.Duration) error {
	if duration <= 0 {
		duration = 400 * time.Millisecond
	}
	return b.runFlow(ctx, map[string]any{"swipe": map[string]any{
		"start":    pointArg(start),
		"end":      pointArg(end),
		"duration": duration.Milliseconds(),
	}})
}

// SwipeDirection performs a directional swipe (UP, DOWN, LEFT, RIGHT).
func (b *Bridge) SwipeDirection(ctx context.Context, direction string, duration time.Duration) error {
	body := map[string]any{"direction": strings.ToUpper(direction)}
	if duration > 0 {
		body["duration"] = duration.Milliseconds()
	}
	return b.runFlow(ctx, map[string]any{"swipe": body})
}

// InputText types into the currently focused field.
func (b *Bridge) InputText(ctx context.Context, text string) error {
	return b.runFlow(ctx, map[string]any{"inputText": text})
}

// EraseChars removes n characters from the focused field. A non-positive n
// erases the bridge's default amount.
func (b *Bridge) EraseChars(ctx context.Context, n int) error {
	if n <= 0 {
		return b.runFlow(ctx, "eraseText")
	}
	return b.runFlow(ctx, map[string]any{"eraseText": n})
}

func (b *Bridge) PressKey(ctx context.Context, key string) error {
	return b.runFlow(ctx, map[string]any{"pressKey": key}, waitForAnimation())
}

func (b *Bridge) LaunchApp(ctx context.Context, packageName string) error {
	return b.runFlow(ctx, map[string]any{"launchApp": packageName}, waitForAnimation())
}

// StopApp stops the named app, or the foreground app when packageName is empty.
func (b *Bridge) StopApp(ctx context.Context, packageName string) error {
	if packageName == "" {
		return b.runFlow(ctx, "stopApp", waitForAnimation())
	}
	return b.runFlow(ctx, map[string]any{"stopApp": packageName}, waitForAnimation())
}

func (b *Bridge) OpenLink(ctx context.Context, url string) error {
	return b.runFlow(ctx, map[string]any{"openLink": url}, waitForAnimation())
}

func (b *Bridge) Back(ctx context.Context) error {
	return b.runFlow(ctx, "back", waitForAnimation())
}

// WaitForDelay pauses for the requested duration, honoring cancellation.
func (b *Bridge) WaitForDelay(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Settle waits out the configured post-action settle delay so the UI can
// catch up before the next observation.
func (b *Bridge) Settle(ctx context.Context) error {
	if b.settle <= 0 {
		return nil
	}
	return b.WaitForDelay(ctx, b.settle)
}

func waitForAnimation() map[string]any {
	return map[string]any{"waitForAnimationToEnd": map[string]any{"timeout": 500}}
}
