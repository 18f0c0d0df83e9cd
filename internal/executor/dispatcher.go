// Package executor turns a validated decision batch into concrete device
// operations. Calls run strictly in order; a target that cannot be resolved
// aborts the remainder of the batch rather than guessing a substitute.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/journal"
	"github.com/xkilldash9x/droidpilot/internal/perception"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DeviceController is the slice of the device bridge the dispatcher drives.
type DeviceController interface {
	Tap(ctx context.Context, p schemas.Point) error
	LongPress(ctx context.Context, p schemas.Point) error
	Swipe(ctx context.Context, start, end schemas.Point, duration time.Duration) error
	SwipeDirection(ctx context.Context, direction string, duration time.Duration) error
	InputText(ctx context.Context, text string) error
	EraseChars(ctx context.Context, n int) error
	PressKey(ctx context.Context, key string) error
	LaunchApp(ctx context.Context, packageName string) error
	StopApp(ctx context.Context, packageName string) error
	OpenLink(ctx context.Context, url string) error
	Back(ctx context.Context) error
	WaitForDelay(ctx context.Context, d time.Duration) error
}

// Result is the outcome of one ToolCall.
type Result struct {
	Call   schemas.ToolCall
	Err    error
	Detail string // human-readable effect, journaled verbatim
}

// Dispatcher executes decision batches against the device.
type Dispatcher struct {
	device   DeviceController
	resolver *perception.Resolver
	journal  *journal.Journal
	logger   *zap.Logger
}

func NewDispatcher(device DeviceController, resolver *perception.Resolver, jnl *journal.Journal, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		device:   device,
		resolver: resolver,
		journal:  jnl,
		logger:   logger.Named("executor"),
	}
}

// Execute runs the batch in order against the snapshot taken at turn start.
// It returns one Result per attempted call. A resolution failure mid-batch
// aborts the remaining calls; their results are not fabricated. The error
// return is reserved for systemic problems (invalid batch, cancellation);
// per-call failures travel inside the results.
func (d *Dispatcher) Execute(ctx context.Context, batch []schemas.ToolCall, snap *schemas.ScreenSnapshot) ([]Result, error) {
	if err := schemas.ValidateBatch(batch); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(batch))
	for i, call := range batch {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := d.dispatch(ctx, call, snap)
		results = append(results, res)

		if res.Err != nil {
			d.journal.Append(journal.AgentExecutor,
				fmt.Sprintf("%s failed (call %d of %d): %v", call.Name, i+1, len(batch), res.Err))
			d.logger.Warn("Tool call failed, aborting batch remainder",
				zap.String("tool", string(call.Name)),
				zap.Int("index", i),
				zap.Error(res.Err),
			)
			break
		}

		d.journal.Append(journal.AgentExecutor, fmt.Sprintf("%s succeeded: %s", call.Name, res.Detail))
		d.logger.Debug("Tool call succeeded", zap.String("tool", string(call.Name)))

		// An unpredictable action invalidates the snapshot; the loop must
		// re-perceive before anything else runs. The isolation invariant
		// makes this the last call anyway.
		if call.Unpredictable() {
			break
		}
	}
	return results, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, call schemas.ToolCall, snap *schemas.ScreenSnapshot) Result {
	res := Result{Call: call}

	switch call.Name {
	case schemas.ToolTap, schemas.ToolLongPressOn:
		res.Detail, res.Err = d.pressElement(ctx, call, snap)
	case schemas.ToolFocusAndInputText:
		res.Detail, res.Err = d.focusAndType(ctx, call, snap)
	case schemas.ToolInputText:
		res.Detail, res.Err = d.typeText(ctx, call)
	case schemas.ToolFocusAndClearText, schemas.ToolClearText:
		res.Detail, res.Err = d.clearText(ctx, call, snap)
	case schemas.ToolEraseOneChar:
		res.Detail, res.Err = d.erase(ctx, call)
	case schemas.ToolSwipe:
		res.Detail, res.Err = d.swipe(ctx, call, snap)
	case schemas.ToolPressKey:
		res.Detail, res.Err = d.pressKey(ctx, call)
	case schemas.ToolLaunchApp:
		res.Detail, res.Err = d.launchApp(ctx, call)
	case schemas.ToolStopApp:
		res.Detail, res.Err = d.stopApp(ctx, call)
	case schemas.ToolOpenLink:
		res.Detail, res.Err = d.openLink(ctx, call)
	case schemas.ToolBack:
		res.Err = d.device.Back(ctx)
		res.Detail = "navigated back"
	case schemas.ToolWaitForDelay:
		res.Detail, res.Err = d.wait(ctx, call)
	default:
		res.Err = fmt.Errorf("unknown tool %q", call.Name)
	}
	return res
}

func (d *Dispatcher) resolve(target schemas.Target, snap *schemas.ScreenSnapshot) (*perception.ResolvedElement, error) {
	if target.Empty() {
		return nil, errors.New("tool call carries no target locators")
	}
	el, err := d.resolver.Resolve(target, snap)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}
	return el, nil
}

func (d *Dispatcher) pressElement(ctx context.Context, call schemas.ToolCall, snap *schemas.ScreenSnapshot) (string, error) {
	var args schemas.TargetedArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid %s arguments: %w", call.Name, err)
	}
	el, err := d.resolve(args.Target, snap)
	if err != nil {
		return "", err
	}

	if call.Name == schemas.ToolLongPressOn {
		if err := d.device.LongPress(ctx, el.Point); err != nil {
			return "", err
		}
		return fmt.Sprintf("long-pressed %s at (%d,%d) via %s", args.Target, el.Point.X, el.Point.Y, el.Kind), nil
	}
	if err := d.device.Tap(ctx, el.Point); err != nil {
		return "", err
	}
	return fmt.Sprintf("tapped %s at (%d,%d) via %s", args.Target, el.Point.X, el.Point.Y, el.Kind), nil
}

func (d *Dispatcher) focusAndType(ctx context.Context, call schemas.ToolCall, snap *schemas.ScreenSnapshot) (string, error) {
	var args schemas.TargetedArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid %s arguments: %w", call.Name, err)
	}
	el, err := d.resolve(args.Target, snap)
	if err != nil {
		return "", err
	}
	if err := d.device.Tap(ctx, el.Point); err != nil {
		return "", fmt.Errorf("failed to focus %s: %w", args.Target, err)
	}
	if err := d.device.InputText(ctx, args.Text); err != nil {
		return "", err
	}
	return fmt.Sprintf("focused %s and typed %q", args.Target, args.Text), nil
}

func (d *Dispatcher) typeText(ctx context.Context, call schemas.ToolCall) (string, error) {
	var args schemas.TargetedArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid input_text arguments: %w", err)
	}
	if err := d.device.InputText(ctx, args.Text); err != nil {
		return "", err
	}
	return fmt.Sprintf("typed %q into the focused field", args.Text), nil
}

func (d *Dispatcher) clearText(ctx context.Context, call schemas.ToolCall, snap *schemas.ScreenSnapshot) (string, error) {
	var args schemas.TargetedArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid %s arguments: %w", call.Name, err)
	}
	detail := "cleared the focused field"
	if call.Name == schemas.ToolFocusAndClearText {
		el, err := d.resolve(args.Target, snap)
		if err != nil {
			return "", err
		}
		if err := d.device.Tap(ctx, el.Point); err != nil {
			return "", fmt.Errorf("failed to focus %s: %w", args.Target, err)
		}
		detail = fmt.Sprintf("focused %s and cleared it", args.Target)
	}
	if err := d.device.EraseChars(ctx, 0); err != nil {
		return "", err
	}
	return detail, nil
}

func (d *Dispatcher) erase(ctx context.Context, call schemas.ToolCall) (string, error) {
	var args schemas.EraseArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid erase_one_char arguments: %w", err)
	}
	count := args.Count
	if count <= 0 {
		count = 1
	}
	if err := d.device.EraseChars(ctx, count); err != nil {
		return "", err
	}
	return fmt.Sprintf("erased %d character(s)", count), nil
}

func (d *Dispatcher) swipe(ctx context.Context, call schemas.ToolCall, snap *schemas.ScreenSnapshot) (string, error) {
	var args schemas.SwipeArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid swipe arguments: %w", err)
	}
	duration := time.Duration(args.DurationMs) * time.Millisecond

	switch {
	case args.Direction != "":
		if err := d.device.SwipeDirection(ctx, args.Direction, duration); err != nil {
			return "", err
		}
		return fmt.Sprintf("swiped %s", args.Direction), nil

	case args.Start != nil && args.End != nil:
		if err := d.device.Swipe(ctx, *args.Start, *args.End, duration); err != nil {
			return "", err
		}
		return fmt.Sprintf("swiped from (%d,%d) to (%d,%d)", args.Start.X, args.Start.Y, args.End.X, args.End.Y), nil

	case args.StartPercent != nil && args.EndPercent != nil:
		if snap == nil || snap.Width == 0 || snap.Height == 0 {
			return "", errors.New("percentage swipe requires known screen dimensions")
		}
		start := percentPoint(*args.StartPercent, snap)
		end := percentPoint(*args.EndPercent, snap)
		if err := d.device.Swipe(ctx, start, end, duration); err != nil {
			return "", err
		}
		return fmt.Sprintf("swiped from (%d,%d) to (%d,%d)", start.X, start.Y, end.X, end.Y), nil

	default:
		return "", errors.New("swipe requires a direction, coordinates or percentages")
	}
}

func percentPoint(pct [2]int, snap *schemas.ScreenSnapshot) schemas.Point {
	screen := schemas.Bounds{Width: snap.Width, Height: snap.Height}
	return screen.RelativePoint(float64(pct[0])/100, float64(pct[1])/100)
}

func (d *Dispatcher) pressKey(ctx context.Context, call schemas.ToolCall) (string, error) {
	var args schemas.PressKeyArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid press_key arguments: %w", err)
	}
	if args.Key == "" {
		return "", errors.New("press_key requires a key name")
	}
	if err := d.device.PressKey(ctx, args.Key); err != nil {
		return "", err
	}
	return fmt.Sprintf("pressed %s", args.Key), nil
}

func (d *Dispatcher) launchApp(ctx context.Context, call schemas.ToolCall) (string, error) {
	var args schemas.LaunchAppArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid launch_app arguments: %w", err)
	}
	if args.AppName == "" {
		return "", errors.New("launch_app requires an app name")
	}
	if err := d.device.LaunchApp(ctx, args.AppName); err != nil {
		return "", err
	}
	return fmt.Sprintf("launched %s", args.AppName), nil
}

func (d *Dispatcher) stopApp(ctx context.Context, call schemas.ToolCall) (string, error) {
	var args schemas.LaunchAppArgs
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("invalid stop_app arguments: %w", err)
		}
	}
	if err := d.device.StopApp(ctx, args.AppName); err != nil {
		return "", err
	}
	if args.AppName == "" {
		return "stopped the foreground app", nil
	}
	return fmt.Sprintf("stopped %s", args.AppName), nil
}

func (d *Dispatcher) openLink(ctx context.Context, call schemas.ToolCall) (string, error) {
	var args schemas.OpenLinkArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid open_link arguments: %w", err)
	}
	if args.URL == "" {
		return "", errors.New("open_link requires a url")
	}
	if err := d.device.OpenLink(ctx, args.URL); err != nil {
		return "", err
	}
	return fmt.Sprintf("opened %s", args.URL), nil
}

func (d *Dispatcher) wait(ctx context.Context, call schemas.ToolCall) (string, error) {
	var args schemas.WaitArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("invalid wait_for_delay arguments: %w", err)
	}
	if args.DurationMs <= 0 {
		return "", errors.New("wait_for_delay requires a positive duration")
	}
	d2 := time.Duration(args.DurationMs) * time.Millisecond
	if err := d.device.WaitForDelay(ctx, d2); err != nil {
		return "", err
	}
	return fmt.Sprintf("waited %s", d2), nil
}
