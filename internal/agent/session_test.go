package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/cortex"
	"github.com/xkilldash9x/droidpilot/internal/executor"
	"github.com/xkilldash9x/droidpilot/internal/journal"
)

// -- Scripted components --

type scriptedPlanner struct {
	plans     []*schemas.Plan
	revisions []*schemas.Plan
	reviseErr error
}

func (p *scriptedPlanner) Generate(context.Context, string) (*schemas.Plan, error) {
	if len(p.plans) == 0 {
		return nil, errors.New("no plan scripted")
	}
	plan := p.plans[0]
	p.plans = p.plans[1:]
	return plan, nil
}

func (p *scriptedPlanner) Revise(context.Context, schemas.Plan) (*schemas.Plan, error) {
	if p.reviseErr != nil {
		return nil, p.reviseErr
	}
	if len(p.revisions) == 0 {
		return nil, errors.New("no revision scripted")
	}
	plan := p.revisions[0]
	p.revisions = p.revisions[1:]
	return plan, nil
}

type scriptedDecider struct {
	outcomes []*cortex.Outcome
}

func (d *scriptedDecider) Decide(context.Context, schemas.Plan, *schemas.ScreenSnapshot) (*cortex.Outcome, error) {
	if len(d.outcomes) == 0 {
		return nil, errors.New("no outcome scripted")
	}
	out := d.outcomes[0]
	d.outcomes = d.outcomes[1:]
	return out, nil
}

type fakeExecutor struct {
	jnl     *journal.Journal
	batches [][]schemas.ToolCall
}

func (e *fakeExecutor) Execute(_ context.Context, batch []schemas.ToolCall, _ *schemas.ScreenSnapshot) ([]executor.Result, error) {
	e.batches = append(e.batches, batch)
	results := make([]executor.Result, len(batch))
	for i, call := range batch {
		results[i] = executor.Result{Call: call, Detail: "ok"}
		e.jnl.Append(journal.AgentExecutor, fmt.Sprintf("%s succeeded", call.Name))
	}
	return results, nil
}

type fakeSource struct {
	analyses []string
}

func (s *fakeSource) Observe(context.Context) (*schemas.ScreenSnapshot, error) {
	return &schemas.ScreenSnapshot{Width: 1080, Height: 2400}, nil
}

func (s *fakeSource) Analyze(_ context.Context, prompt string, _ *schemas.ScreenSnapshot) (string, error) {
	s.analyses = append(s.analyses, prompt)
	return "the list shows Item Y at position 3", nil
}

// -- Helpers --

func twoStepPlan() *schemas.Plan {
	return &schemas.Plan{
		Goal: "buy item Y",
		Subgoals: []schemas.Subgoal{
			{ID: "a", Description: "Open app X", Status: schemas.SubgoalNotStarted},
			{ID: "b", Description: "Find item Y", Status: schemas.SubgoalNotStarted},
		},
	}
}

func batchOutcome(examined []string, calls ...schemas.ToolCall) *cortex.Outcome {
	decision, err := schemas.NewDecision(nil, "acting", calls, nil)
	if err != nil {
		panic(err)
	}
	return &cortex.Outcome{Decision: decision, Examined: examined}
}

func completionOutcome(examined, ids []string, reason string) *cortex.Outcome {
	decision, err := schemas.NewDecision(&schemas.CompletionReport{SubgoalIDs: ids, Reason: reason}, reason, nil, nil)
	if err != nil {
		panic(err)
	}
	return &cortex.Outcome{Decision: decision, Examined: examined}
}

func failureOutcome(examined []string, id, reason string) *cortex.Outcome {
	return &cortex.Outcome{
		Decision: schemas.DecisionOutput{},
		Examined: examined,
		Failure:  &cortex.FailureAssertion{SubgoalID: id, Reason: reason},
	}
}

func tapCall() schemas.ToolCall {
	return schemas.ToolCall{Name: schemas.ToolTap, Arguments: []byte(`{"target": {"text": "Search"}}`)}
}

func newTestSession(t *testing.T, p PlanSource, d Decider, cfg config.AgentConfig) (*Session, *fakeExecutor, *journal.Journal) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	jnl := journal.New(logger)
	exec := &fakeExecutor{jnl: jnl}
	return NewSession(cfg, p, d, exec, &fakeSource{}, jnl, logger), exec, jnl
}

// -- Tests --

func TestSession_CompletesGoal(t *testing.T) {
	planner := &scriptedPlanner{plans: []*schemas.Plan{twoStepPlan()}}
	decider := &scriptedDecider{outcomes: []*cortex.Outcome{
		batchOutcome([]string{"a", "b"}, tapCall()),
		completionOutcome([]string{"a", "b"}, []string{"a"}, "app X opened"),
		batchOutcome([]string{"b"}, tapCall()),
		completionOutcome([]string{"b"}, []string{"b"}, "item Y found, order #42 placed"),
	}}

	session, exec, _ := newTestSession(t, planner, decider, config.AgentConfig{MaxTurns: 10, MaxReplans: 1})
	result, err := session.Run(context.Background(), "buy item Y")
	require.NoError(t, err)

	assert.Equal(t, "item Y found, order #42 placed", result.Answer)
	assert.Len(t, exec.batches, 2)
}

func TestSession_ReplansOnFailure(t *testing.T) {
	revised := &schemas.Plan{
		Goal: "buy item Y",
		Subgoals: []schemas.Subgoal{
			{ID: "a2", Description: "Search for item Y", Status: schemas.SubgoalNotStarted},
		},
	}
	planner := &scriptedPlanner{
		plans:     []*schemas.Plan{twoStepPlan()},
		revisions: []*schemas.Plan{revised},
	}
	decider := &scriptedDecider{outcomes: []*cortex.Outcome{
		batchOutcome([]string{"a", "b"}, tapCall()),
		failureOutcome([]string{"a", "b"}, "a", "app X is not installed"),
		batchOutcome([]string{"a2"}, tapCall()),
		completionOutcome([]string{"a2"}, []string{"a2"}, "found via web search"),
	}}

	session, _, jnl := newTestSession(t, planner, decider, config.AgentConfig{MaxTurns: 10, MaxReplans: 2})
	result, err := session.Run(context.Background(), "buy item Y")
	require.NoError(t, err)
	assert.Equal(t, "found via web search", result.Answer)

	// The failure and the revision both live in the journal.
	var sawFailure, sawRevision bool
	for _, rec := range jnl.Snapshot() {
		if strings.Contains(rec.Content, "not installed") {
			sawFailure = true
		}
		if strings.Contains(rec.Content, "Plan revised") {
			sawRevision = true
		}
	}
	assert.True(t, sawFailure)
	assert.True(t, sawRevision)
}

func TestSession_PlanExhaustedAfterMaxReplans(t *testing.T) {
	planner := &scriptedPlanner{
		plans: []*schemas.Plan{twoStepPlan()},
		revisions: []*schemas.Plan{{
			Goal:     "buy item Y",
			Subgoals: []schemas.Subgoal{{ID: "a2", Description: "Try harder", Status: schemas.SubgoalNotStarted}},
		}},
	}
	decider := &scriptedDecider{outcomes: []*cortex.Outcome{
		batchOutcome([]string{"a", "b"}, tapCall()),
		failureOutcome([]string{"a", "b"}, "a", "app X is not installed"),
		failureOutcome([]string{"a2"}, "a2", "search returned nothing"),
	}}

	session, _, _ := newTestSession(t, planner, decider, config.AgentConfig{MaxTurns: 10, MaxReplans: 1})
	_, err := session.Run(context.Background(), "buy item Y")
	require.ErrorIs(t, err, ErrPlanExhausted)

	// The reason chain accumulates across replan boundaries.
	assert.Contains(t, err.Error(), "app X is not installed")
	assert.Contains(t, err.Error(), "search returned nothing")
}

func TestSession_PlanExhaustedWhenRevisionFails(t *testing.T) {
	planner := &scriptedPlanner{
		plans:     []*schemas.Plan{twoStepPlan()},
		reviseErr: errors.New("model keeps repeating the failed strategy"),
	}
	decider := &scriptedDecider{outcomes: []*cortex.Outcome{
		batchOutcome([]string{"a", "b"}, tapCall()),
		failureOutcome([]string{"a", "b"}, "a", "blocked by login wall"),
	}}

	session, _, _ := newTestSession(t, planner, decider, config.AgentConfig{MaxTurns: 10, MaxReplans: 3})
	_, err := session.Run(context.Background(), "buy item Y")
	require.ErrorIs(t, err, ErrPlanExhausted)
	assert.Contains(t, err.Error(), "blocked by login wall")
}

func TestSession_AnalysisTurnBlocksBatch(t *testing.T) {
	planner := &scriptedPlanner{plans: []*schemas.Plan{twoStepPlan()}}

	analysisDecision, err := schemas.NewDecision(nil, "screen unclear", nil, &schemas.AnalysisRequest{Prompt: "what items are listed?"})
	require.NoError(t, err)

	decider := &scriptedDecider{outcomes: []*cortex.Outcome{
		batchOutcome([]string{"a", "b"}, tapCall()),
		{Decision: analysisDecision, Examined: []string{"a", "b"}},
		completionOutcome([]string{"a", "b"}, []string{"a", "b"}, "done"),
	}}

	logger := zaptest.NewLogger(t)
	jnl := journal.New(logger)
	exec := &fakeExecutor{jnl: jnl}
	source := &fakeSource{}
	session := NewSession(config.AgentConfig{MaxTurns: 10, MaxReplans: 1}, planner, decider, exec, source, jnl, logger)

	result, err := session.Run(context.Background(), "buy item Y")
	require.NoError(t, err)
	assert.Equal(t, "done", result.Answer)

	// The analysis ran and entered the journal; no batch executed that turn.
	require.Len(t, source.analyses, 1)
	assert.Len(t, exec.batches, 1)

	var analyzed bool
	for _, rec := range jnl.Snapshot() {
		if rec.Agent == journal.AgentPerception && strings.Contains(rec.Content, "Item Y at position 3") {
			analyzed = true
		}
	}
	assert.True(t, analyzed)
}

func TestSession_MaxTurnsReached(t *testing.T) {
	planner := &scriptedPlanner{plans: []*schemas.Plan{twoStepPlan()}}
	outcomes := make([]*cortex.Outcome, 0, 5)
	for i := 0; i < 5; i++ {
		outcomes = append(outcomes, batchOutcome([]string{"a", "b"}, tapCall()))
	}
	decider := &scriptedDecider{outcomes: outcomes}

	session, _, _ := newTestSession(t, planner, decider, config.AgentConfig{MaxTurns: 3, MaxReplans: 1})
	_, err := session.Run(context.Background(), "buy item Y")
	assert.ErrorIs(t, err, ErrMaxTurns)
}

func TestSession_ContextCancellation(t *testing.T) {
	planner := &scriptedPlanner{plans: []*schemas.Plan{twoStepPlan()}}
	decider := &scriptedDecider{}

	session, _, _ := newTestSession(t, planner, decider, config.AgentConfig{MaxTurns: 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.Run(ctx, "buy item Y")
	assert.ErrorIs(t, err, context.Canceled)
}
