package schemas

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ToolName enumerates the device actions the decision engine may emit.
// The names are the wire-level vocabulary shared with the reasoning model.
type ToolName string

const (
	ToolBack              ToolName = "back"
	ToolOpenLink          ToolName = "open_link"
	ToolTap               ToolName = "tap"
	ToolLongPressOn       ToolName = "long_press_on"
	ToolSwipe             ToolName = "swipe"
	ToolFocusAndInputText ToolName = "focus_and_input_text"
	ToolInputText         ToolName = "input_text"
	ToolEraseOneChar      ToolName = "erase_one_char"
	ToolLaunchApp         ToolName = "launch_app"
	ToolStopApp           ToolName = "stop_app"
	ToolFocusAndClearText ToolName = "focus_and_clear_text"
	ToolClearText         ToolName = "clear_text"
	ToolPressKey          ToolName = "press_key"
	ToolWaitForDelay      ToolName = "wait_for_delay"
	ToolAnalyzeScreen     ToolName = "analyze_screen"
)

// Unpredictable reports whether the action's effect on the UI cannot be
// foreseen with confidence before execution. Such actions must be the sole
// element of their batch so the loop re-perceives before deciding again.
func (t ToolName) Unpredictable() bool {
	switch t {
	case ToolBack, ToolOpenLink, ToolLaunchApp, ToolStopApp, ToolPressKey:
		return true
	}
	return false
}

// Target is the set of locators known for one logical UI element. A decision
// carries every locator it has evidence for, not just one; the resolver tries
// them in strict priority order (resource id, coordinates, text).
type Target struct {
	ResourceID      string  `json:"resource_id,omitempty"`
	ResourceIDIndex int     `json:"resource_id_index,omitempty"`
	Coordinates     *Bounds `json:"coordinates,omitempty"`
	Text            string  `json:"text,omitempty"`
	TextIndex       int     `json:"text_index,omitempty"`
}

// Empty reports whether the target carries no locator at all.
func (t Target) Empty() bool {
	return t.ResourceID == "" && t.Coordinates == nil && t.Text == ""
}

func (t Target) String() string {
	var parts []string
	if t.ResourceID != "" {
		parts = append(parts, fmt.Sprintf("resource_id=%q (index=%d)", t.ResourceID, t.ResourceIDIndex))
	}
	if t.Coordinates != nil {
		parts = append(parts, fmt.Sprintf("coordinates=%+v", *t.Coordinates))
	}
	if t.Text != "" {
		parts = append(parts, fmt.Sprintf("text=%q (index=%d)", t.Text, t.TextIndex))
	}
	if len(parts) == 0 {
		return "<no locators>"
	}
	return strings.Join(parts, ", ")
}

// ToolCall is one abstract device action with its raw arguments. Argument
// decoding is deferred to the dispatcher so unknown fields surface at
// execution time with the failing call's index.
type ToolCall struct {
	Name      ToolName        `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// Thought is the engine's stated intent for this specific call, journaled
	// alongside the outcome.
	Thought string `json:"thought,omitempty"`
	// Navigational marks a tap the engine judged to leave the current screen,
	// which promotes it to the unpredictable class.
	Navigational bool `json:"navigational,omitempty"`
}

// Unpredictable reports whether this call requires batch isolation.
func (c ToolCall) Unpredictable() bool {
	return c.Name.Unpredictable() || (c.Name == ToolTap && c.Navigational)
}

// -- Per-tool argument payloads --

// TargetedArgs covers tap, long_press_on and the focus-based text tools.
type TargetedArgs struct {
	Target Target `json:"target"`
	// Text is the input payload for the text tools; ignored by tap variants.
	Text string `json:"text,omitempty"`
}

// SwipeArgs supports coordinate, percentage and directional swipes. Exactly
// one addressing mode should be populated.
type SwipeArgs struct {
	Start        *Point  `json:"start,omitempty"`
	End          *Point  `json:"end,omitempty"`
	StartPercent *[2]int `json:"start_percent,omitempty"`
	EndPercent   *[2]int `json:"end_percent,omitempty"`
	Direction    string  `json:"direction,omitempty"` // UP, DOWN, LEFT, RIGHT
	DurationMs   int     `json:"duration_ms,omitempty"`
}

// LaunchAppArgs names the application to launch or stop.
type LaunchAppArgs struct {
	AppName string `json:"app_name"`
}

// OpenLinkArgs carries the URL for open_link.
type OpenLinkArgs struct {
	URL string `json:"url"`
}

// PressKeyArgs names a hardware key: Enter, Home or Back.
type PressKeyArgs struct {
	Key string `json:"key"`
}

// WaitArgs is the delay payload for wait_for_delay.
type WaitArgs struct {
	DurationMs int `json:"duration_ms"`
}

// EraseArgs optionally repeats erase_one_char.
type EraseArgs struct {
	Target Target `json:"target"`
	Count  int    `json:"count,omitempty"`
}

// AnalyzeScreenArgs is the focused question for a deep-perception pass.
type AnalyzeScreenArgs struct {
	Prompt string `json:"prompt"`
}

// -- Decision output --

// CompletionReport lists subgoals the engine judged complete, with the
// evidence-citing reason. When the whole plan is complete the reason doubles
// as the final answer to the goal.
type CompletionReport struct {
	SubgoalIDs []string `json:"subgoal_ids"`
	Reason     string   `json:"reason"`
}

// AnalysisRequest asks for a deep-perception pass over the current screen.
// It blocks the loop: no batch executes in the same turn.
type AnalysisRequest struct {
	Prompt string `json:"prompt"`
}

// ReplanReport signals that the plan no longer matches observed reality.
type ReplanReport struct {
	NeedsReplan bool   `json:"needs_replan"`
	Reason      string `json:"reason"`
}

// replanReasonWordLimit bounds the reason handed to the planner. The full
// failure detail is already in the journal.
const replanReasonWordLimit = 20

// NewReplanReport flags a needed replan, clamping a verbose reason to a
// short phrase.
func NewReplanReport(reason string) ReplanReport {
	if words := strings.Fields(reason); len(words) > replanReasonWordLimit {
		reason = strings.Join(words[:replanReasonWordLimit], " ") + " ..."
	}
	return ReplanReport{NeedsReplan: true, Reason: reason}
}

// ErrBothOutputs is returned when a decision tries to carry both an action
// batch and an analysis request. The contract makes these mutually exclusive
// at construction rather than relying on downstream priority rules.
var ErrBothOutputs = errors.New("decision cannot carry both an action batch and an analysis request")

// ErrUnsafeBatch is returned when a batch longer than one call contains an
// unpredictable action.
var ErrUnsafeBatch = errors.New("batch containing an unpredictable action must have length 1")

// DecisionOutput is the engine's answer for one turn: an optional completion
// report, and at most one of an action batch or an analysis request. The
// variant fields are unexported; use the constructors so the mutual-exclusion
// and batch-isolation invariants hold everywhere a DecisionOutput exists.
type DecisionOutput struct {
	Completions *CompletionReport
	Reason      string

	batch    []ToolCall
	analysis *AnalysisRequest
}

// NewDecision builds a validated DecisionOutput. batch and analysis are
// mutually exclusive; a batch with an unpredictable action must be length 1.
func NewDecision(completions *CompletionReport, reason string, batch []ToolCall, analysis *AnalysisRequest) (DecisionOutput, error) {
	if len(batch) > 0 && analysis != nil {
		return DecisionOutput{}, ErrBothOutputs
	}
	if err := ValidateBatch(batch); err != nil {
		return DecisionOutput{}, err
	}
	return DecisionOutput{
		Completions: completions,
		Reason:      reason,
		batch:       batch,
		analysis:    analysis,
	}, nil
}

// ValidateBatch checks the unpredictable-action isolation rule.
func ValidateBatch(batch []ToolCall) error {
	if len(batch) <= 1 {
		return nil
	}
	for _, call := range batch {
		if call.Unpredictable() {
			return fmt.Errorf("%w: %s at batch of %d", ErrUnsafeBatch, call.Name, len(batch))
		}
	}
	return nil
}

// Batch returns the ordered tool calls, or nil when the decision carries none.
func (d DecisionOutput) Batch() []ToolCall { return d.batch }

// Analysis returns the deep-perception request, or nil.
func (d DecisionOutput) Analysis() *AnalysisRequest { return d.analysis }

// IsEmpty reports whether the decision carries nothing actionable.
func (d DecisionOutput) IsEmpty() bool {
	return d.Completions == nil && len(d.batch) == 0 && d.analysis == nil
}

// -- Thought journal wire type --

// ThoughtRecord is one append-only journal entry: who thought or observed
// what, and when. Seq is the process-wide total order; it equals the causal
// order of decisions and their outcomes.
type ThoughtRecord struct {
	Seq       int       `json:"seq"`
	Agent     string    `json:"agent"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (r ThoughtRecord) String() string {
	return fmt.Sprintf("#%d [%s] %s", r.Seq, r.Agent, r.Content)
}
