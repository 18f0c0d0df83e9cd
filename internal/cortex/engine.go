// Package cortex is the per-turn decision engine. It reasons over the plan,
// the thought journal and the latest screen snapshot, and emits a validated
// decision: subgoal completions, an ordered action batch, or a request for
// deeper screen analysis.
package cortex

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/journal"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FailureAssertion reports that no viable strategy remains for a subgoal.
type FailureAssertion struct {
	SubgoalID string
	Reason    string
}

// Outcome is the engine's full answer for one turn.
type Outcome struct {
	Decision schemas.DecisionOutput
	Examined []string // subgoal ids the engine was shown this turn
	Failure  *FailureAssertion
}

// Engine drives one decision per turn. It never mutates the plan; the
// tracker applies whatever the outcome reports.
type Engine struct {
	llm         schemas.LLMClient
	journal     *journal.Journal
	cycleWindow int
	repeatLimit int
	logger      *zap.Logger
}

func New(llm schemas.LLMClient, jnl *journal.Journal, cfg config.AgentConfig, logger *zap.Logger) *Engine {
	window := cfg.CycleWindow
	if window <= 0 {
		window = 12
	}
	limit := cfg.CycleRepeatLimit
	if limit < 2 {
		limit = 3
	}
	return &Engine{
		llm:         llm,
		journal:     jnl,
		cycleWindow: window,
		repeatLimit: limit,
		logger:      logger.Named("cortex"),
	}
}

// cortexWire is the JSON shape the model replies with.
type cortexWire struct {
	Decisions             []wireCall   `json:"decisions"`
	DecisionsReason       string       `json:"decisions_reason"`
	CompleteSubgoalsByIDs []string     `json:"complete_subgoals_by_ids"`
	GoalsCompletionReason string       `json:"goals_completion_reason"`
	AnalysisRequest       string       `json:"analysis_request,omitempty"`
	SubgoalFailure        *wireFailure `json:"subgoal_failure,omitempty"`
	Checkpoint            string       `json:"checkpoint,omitempty"`
}

type wireCall struct {
	Name         string             `json:"name"`
	Arguments    stdjson.RawMessage `json:"arguments"`
	Thought      string             `json:"thought,omitempty"`
	Navigational bool               `json:"navigational,omitempty"`
}

type wireFailure struct {
	SubgoalID string `json:"subgoal_id"`
	Reason    string `json:"reason"`
}

// Decide produces the decision for the current turn. It enforces the
// batch/analysis priority rule, the unpredictable-action isolation rule and
// the cycle-break rule before anything reaches the dispatcher.
func (e *Engine) Decide(ctx context.Context, plan schemas.Plan, snap *schemas.ScreenSnapshot) (*Outcome, error) {
	current := plan.Current()
	examined := examinedIDs(plan)

	userPrompt := e.buildUserPrompt(plan, snap)
	wire, err := e.request(ctx, decisionSystemPrompt, userPrompt, snap)
	if err != nil {
		return nil, err
	}

	batch := toBatch(wire)
	sig := batchSignature(batch)

	// Cycle-break rule: when the proposed batch has already been emitted
	// repeatLimit times in the trailing window without progress, re-prompt
	// once demanding a structurally different strategy.
	if current != nil && len(batch) > 0 && e.countRecentSignature(sig) >= e.repeatLimit {
		e.logger.Warn("Repeating action cycle detected, forcing a pivot",
			zap.String("subgoal_id", current.ID),
			zap.String("signature", sig),
		)
		e.journal.Append(journal.AgentCortex,
			fmt.Sprintf("Cycle detected on subgoal %q: the last %d turns repeated the same actions without progress. Pivoting.", current.ID, e.repeatLimit))

		pivotPrompt := userPrompt + "\n\n" + pivotInstruction
		wire, err = e.request(ctx, decisionSystemPrompt, pivotPrompt, snap)
		if err != nil {
			return nil, err
		}
		batch = toBatch(wire)

		if batchSignature(batch) == sig {
			// No alternative strategy remains. Assert subgoal failure
			// rather than executing the same loop a fourth time.
			reason := fmt.Sprintf("no alternative strategy after %d identical attempts (%s)", e.repeatLimit, sig)
			e.journal.Append(journal.AgentCortex, fmt.Sprintf("Subgoal %q has no viable strategy left: %s", current.ID, reason))
			return &Outcome{
				Examined: examined,
				Failure:  &FailureAssertion{SubgoalID: current.ID, Reason: reason},
			}, nil
		}
		sig = batchSignature(batch)
	}

	return e.assemble(wire, batch, sig, examined, current)
}

// assemble converts the wire response into a validated Outcome, applying
// the priority and isolation rules and journaling the decision.
func (e *Engine) assemble(wire *cortexWire, batch []schemas.ToolCall, sig string, examined []string, current *schemas.Subgoal) (*Outcome, error) {
	// Some models emit analyze_screen as a tool call instead of filling the
	// analysis_request field. Lift those out of the batch so the dispatcher
	// never sees them.
	if lifted, prompt := liftAnalysis(batch); prompt != "" {
		if wire.AnalysisRequest == "" {
			wire.AnalysisRequest = prompt
		}
		batch = lifted
		sig = batchSignature(batch)
	}

	var analysis *schemas.AnalysisRequest
	if wire.AnalysisRequest != "" {
		analysis = &schemas.AnalysisRequest{Prompt: wire.AnalysisRequest}
	}

	// Priority rule: a batch wins over an analysis request. The discarded
	// request is journaled so the model sees its query never ran.
	if len(batch) > 0 && analysis != nil {
		e.journal.Append(journal.AgentCortex,
			fmt.Sprintf("Discarded analysis request %q: an action batch takes priority in the same turn", analysis.Prompt))
		e.logger.Debug("Analysis request discarded in favor of action batch")
		analysis = nil
	}

	// Isolation rule: an unpredictable action must travel alone. Rather
	// than rejecting the whole turn, keep the longest safe prefix.
	if trimmed, ok := isolate(batch); ok {
		e.journal.Append(journal.AgentCortex,
			fmt.Sprintf("Trimmed batch from %d to %d calls to isolate an unpredictable action", len(batch), len(trimmed)))
		batch = trimmed
		sig = batchSignature(batch)
	}

	var completions *schemas.CompletionReport
	if len(wire.CompleteSubgoalsByIDs) > 0 {
		completions = &schemas.CompletionReport{
			SubgoalIDs: wire.CompleteSubgoalsByIDs,
			Reason:     wire.GoalsCompletionReason,
		}
	}

	decision, err := schemas.NewDecision(completions, wire.DecisionsReason, batch, analysis)
	if err != nil {
		return nil, fmt.Errorf("model produced an invalid decision: %w", err)
	}

	outcome := &Outcome{Decision: decision, Examined: examined}
	if wire.SubgoalFailure != nil && wire.SubgoalFailure.Reason != "" {
		id := wire.SubgoalFailure.SubgoalID
		if id == "" && current != nil {
			id = current.ID
		}
		outcome.Failure = &FailureAssertion{SubgoalID: id, Reason: wire.SubgoalFailure.Reason}
	}

	e.journalDecision(wire, batch, sig, current)
	return outcome, nil
}

func (e *Engine) request(ctx context.Context, systemPrompt, userPrompt string, snap *schemas.ScreenSnapshot) (*cortexWire, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     1.0,
			ForceJSONFormat: true,
		},
	}
	if snap != nil {
		req.ImageB64 = snap.ScreenshotB64
	}

	raw, err := e.llm.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decision request failed: %w", err)
	}

	var wire cortexWire
	if err := json.Unmarshal([]byte(llmclient.ExtractJSON(raw)), &wire); err != nil {
		return nil, fmt.Errorf("failed to parse decision output: %w", err)
	}
	return &wire, nil
}

// journalDecision records what was decided, embedding the canonical batch
// signature so later turns can detect repetition, and any checkpoint for
// indefinite-length operations.
func (e *Engine) journalDecision(wire *cortexWire, batch []schemas.ToolCall, sig string, current *schemas.Subgoal) {
	subject := "no active subgoal"
	if current != nil {
		subject = fmt.Sprintf("subgoal %q", current.ID)
	}
	var line string
	switch {
	case len(batch) > 0:
		line = fmt.Sprintf("Decision for %s: batch<<%s>> because %s", subject, sig, wire.DecisionsReason)
	case wire.AnalysisRequest != "":
		line = fmt.Sprintf("Decision for %s: analyze screen (%s)", subject, wire.AnalysisRequest)
	default:
		line = fmt.Sprintf("Decision for %s: no action (%s)", subject, wire.DecisionsReason)
	}
	lines := []string{line}
	if wire.Checkpoint != "" {
		lines = append(lines, fmt.Sprintf("Checkpoint: %s", wire.Checkpoint))
	}
	e.journal.AppendAll(journal.AgentCortex, lines...)
}

var sigRegexp = regexp.MustCompile(`batch<<(.*?)>>`)

// countRecentSignature counts how many trailing cortex decision records
// carry the given batch signature.
func (e *Engine) countRecentSignature(sig string) int {
	if sig == "" {
		return 0
	}
	count := 0
	for _, rec := range e.journal.Tail(e.cycleWindow) {
		if rec.Agent != journal.AgentCortex {
			continue
		}
		if m := sigRegexp.FindStringSubmatch(rec.Content); m != nil && m[1] == sig {
			count++
		}
	}
	return count
}

// batchSignature returns a canonical, order-sensitive fingerprint of the
// batch: tool names plus compacted arguments.
func batchSignature(batch []schemas.ToolCall) string {
	if len(batch) == 0 {
		return ""
	}
	parts := make([]string, len(batch))
	for i, call := range batch {
		var compact bytes.Buffer
		if len(call.Arguments) > 0 {
			if err := stdjson.Compact(&compact, call.Arguments); err != nil {
				compact.Reset()
				compact.Write(call.Arguments)
			}
		}
		parts[i] = fmt.Sprintf("%s(%s)", call.Name, compact.String())
	}
	return strings.Join(parts, ";")
}

func toBatch(wire *cortexWire) []schemas.ToolCall {
	if len(wire.Decisions) == 0 {
		return nil
	}
	batch := make([]schemas.ToolCall, 0, len(wire.Decisions))
	for _, d := range wire.Decisions {
		if d.Name == "" {
			continue
		}
		batch = append(batch, schemas.ToolCall{
			Name:         schemas.ToolName(d.Name),
			Arguments:    []byte(d.Arguments),
			Thought:      d.Thought,
			Navigational: d.Navigational,
		})
	}
	return batch
}

// liftAnalysis strips analyze_screen calls from a batch and returns the
// remaining calls plus the first lifted prompt, if any.
func liftAnalysis(batch []schemas.ToolCall) ([]schemas.ToolCall, string) {
	prompt := ""
	kept := batch[:0:0]
	for _, call := range batch {
		if call.Name != schemas.ToolAnalyzeScreen {
			kept = append(kept, call)
			continue
		}
		if prompt == "" {
			var args schemas.AnalyzeScreenArgs
			if err := json.Unmarshal(call.Arguments, &args); err == nil && args.Prompt != "" {
				prompt = args.Prompt
			} else if call.Thought != "" {
				prompt = call.Thought
			}
		}
	}
	return kept, prompt
}

// isolate enforces the unpredictable-action rule on a model-proposed batch.
// If the first call is unpredictable it travels alone; otherwise the batch
// is cut just before the first unpredictable call. Returns the trimmed
// batch and whether anything was removed.
func isolate(batch []schemas.ToolCall) ([]schemas.ToolCall, bool) {
	if len(batch) <= 1 {
		return batch, false
	}
	for i, call := range batch {
		if call.Unpredictable() {
			if i == 0 {
				return batch[:1], true
			}
			return batch[:i], true
		}
	}
	return batch, false
}

func examinedIDs(plan schemas.Plan) []string {
	remaining := plan.Remaining()
	ids := make([]string, len(remaining))
	for i, sg := range remaining {
		ids[i] = sg.ID
	}
	return ids
}
