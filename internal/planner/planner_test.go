package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/journal"
)

// scriptedLLM replays canned responses in order.
type scriptedLLM struct {
	responses []string
	requests  []schemas.GenerationRequest
	err       error
}

func (s *scriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", errors.New("scripted llm exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) Close() error { return nil }

func newTestPlanner(t *testing.T, llm schemas.LLMClient) (*Planner, *journal.Journal) {
	t.Helper()
	jnl := journal.New(zaptest.NewLogger(t))
	return New(llm, jnl, zaptest.NewLogger(t)), jnl
}

func TestPlanner_Generate(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"subgoals": [{"description": "Open app X"}, {"description": "Find item Y"}]}`,
	}}
	p, jnl := newTestPlanner(t, llm)

	plan, err := p.Generate(context.Background(), "buy item Y")
	require.NoError(t, err)

	require.Len(t, plan.Subgoals, 2)
	assert.Equal(t, "Open app X", plan.Subgoals[0].Description)
	assert.Equal(t, schemas.SubgoalNotStarted, plan.Subgoals[0].Status)
	assert.NotEmpty(t, plan.Subgoals[0].ID)
	assert.NotEqual(t, plan.Subgoals[0].ID, plan.Subgoals[1].ID)

	require.Len(t, llm.requests, 1)
	assert.Equal(t, schemas.TierPowerful, llm.requests[0].Tier)
	assert.True(t, llm.requests[0].Options.ForceJSONFormat)

	recs := jnl.Snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, journal.AgentPlanner, recs[0].Agent)
}

func TestPlanner_GenerateStripsMarkdownFence(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"```json\n{\"subgoals\": [{\"description\": \"Open app X\"}]}\n```",
	}}
	p, _ := newTestPlanner(t, llm)

	plan, err := p.Generate(context.Background(), "open X")
	require.NoError(t, err)
	require.Len(t, plan.Subgoals, 1)
}

func TestPlanner_GenerateRejectsEmptyPlan(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"subgoals": []}`}}
	p, _ := newTestPlanner(t, llm)

	_, err := p.Generate(context.Background(), "goal")
	assert.ErrorContains(t, err, "empty subgoal list")
}

func priorPlanWithFailure() schemas.Plan {
	return schemas.Plan{
		Goal: "buy item Y",
		Subgoals: []schemas.Subgoal{
			{ID: "a", Description: "Open app X", Status: schemas.SubgoalCompleted, CompletionReason: "home screen observed"},
			{ID: "b", Description: "Tap item Y on the home screen", Status: schemas.SubgoalFailed, CompletionReason: "element not found after three attempts"},
			{ID: "c", Description: "Confirm purchase", Status: schemas.SubgoalNotStarted},
		},
	}
}

func TestPlanner_RevisePreservesCompletedPrefix(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"subgoals": [{"description": "Search for item Y using the search bar"}, {"description": "Confirm purchase"}]}`,
	}}
	p, _ := newTestPlanner(t, llm)

	prior := priorPlanWithFailure()
	revised, err := p.Revise(context.Background(), prior)
	require.NoError(t, err)

	// The completed prefix is carried over untouched, in order.
	require.GreaterOrEqual(t, len(revised.Subgoals), 1)
	if diff := cmp.Diff(prior.Completed(), revised.Subgoals[:1]); diff != "" {
		t.Fatalf("completed prefix altered (-want +got):\n%s", diff)
	}

	assert.Equal(t, "Search for item Y using the search bar", revised.Subgoals[1].Description)
	assert.Equal(t, schemas.SubgoalNotStarted, revised.Subgoals[1].Status)
}

func TestPlanner_ReviseRetriesOnVerbatimRepeat(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		// First revision repeats the failed subgoal word for word.
		`{"subgoals": [{"description": "Tap item Y on the home screen"}]}`,
		`{"subgoals": [{"description": "Scroll the home screen until item Y appears, then tap it"}]}`,
	}}
	p, _ := newTestPlanner(t, llm)

	revised, err := p.Revise(context.Background(), priorPlanWithFailure())
	require.NoError(t, err)
	require.Len(t, llm.requests, 2)
	assert.Contains(t, llm.requests[1].SystemPrompt, "repeated a failed subgoal")
	assert.Equal(t, "Scroll the home screen until item Y appears, then tap it", revised.Subgoals[1].Description)
}

func TestPlanner_ReviseFailsAfterSecondRepeat(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"subgoals": [{"description": "Tap item Y on the home screen"}]}`,
		`{"subgoals": [{"description": "tap item y on the home screen"}]}`,
	}}
	p, _ := newTestPlanner(t, llm)

	_, err := p.Revise(context.Background(), priorPlanWithFailure())
	assert.ErrorContains(t, err, "repeats failed subgoal")
}

func TestPlanner_ReviseIncludesJournalEvidence(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"subgoals": [{"description": "Use the search bar"}]}`,
	}}
	p, jnl := newTestPlanner(t, llm)
	jnl.Append(journal.AgentExecutor, "tap failed: element not found")
	jnl.Append(journal.AgentPerception, "a search bar is visible at the top")

	_, err := p.Revise(context.Background(), priorPlanWithFailure())
	require.NoError(t, err)

	require.Len(t, llm.requests, 1)
	assert.Contains(t, llm.requests[0].UserPrompt, "search bar is visible")
	assert.Contains(t, llm.requests[0].UserPrompt, "Tap item Y on the home screen")
}

func TestPlanner_PropagatesLLMError(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("model unavailable")}
	p, _ := newTestPlanner(t, llm)

	_, err := p.Generate(context.Background(), "goal")
	assert.ErrorContains(t, err, "model unavailable")
}
