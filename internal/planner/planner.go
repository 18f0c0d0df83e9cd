// Package planner turns a natural-language goal into an ordered subgoal
// plan, and revises a broken plan using the evidence accumulated in the
// thought journal.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/journal"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const plannerSystemPrompt = `You are the planning agent for an autonomous mobile device operator.
Decompose the user's goal into a short ordered list of subgoals. Each subgoal is one
milestone observable on the device screen, such as "Open the Settings app" or
"Find the Wi-Fi toggle". Keep the list minimal; do not pad it with obvious steps.

Respond with JSON only, in the form:
{"subgoals": [{"description": "..."}]}`

const reviseInstruction = `The current plan has failed. You are given the failed plan, the
completed subgoals, and the full log of agent thoughts. Produce the REMAINING subgoals
only; the completed ones are kept automatically and must not be repeated.

The first remaining subgoal must pivot to a different strategy, grounded in what the
log actually shows (for example, use an observed search bar instead of a navigation
path that failed). Never repeat a failed subgoal description verbatim; reformulate it
with a stated change of approach.`

const noRepeatInstruction = `Your previous revision repeated a failed subgoal word for word.
Rewrite the remaining subgoals so every description differs from the failed ones and
names the changed approach.`

// plannerOutput is the JSON shape the model replies with.
type plannerOutput struct {
	Subgoals []struct {
		Description string `json:"description"`
	} `json:"subgoals"`
}

type Planner struct {
	llm     schemas.LLMClient
	journal *journal.Journal
	logger  *zap.Logger
}

func New(llm schemas.LLMClient, jnl *journal.Journal, logger *zap.Logger) *Planner {
	return &Planner{
		llm:     llm,
		journal: jnl,
		logger:  logger.Named("planner"),
	}
}

// Generate produces a fresh plan for the goal.
func (p *Planner) Generate(ctx context.Context, goal string) (*schemas.Plan, error) {
	prompt := fmt.Sprintf("Goal: %s\n\nProduce the subgoal plan.", goal)

	subgoals, err := p.requestSubgoals(ctx, plannerSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	plan := &schemas.Plan{Goal: goal, Subgoals: subgoals, CreatedAt: time.Now().UTC()}
	p.journal.Append(journal.AgentPlanner, fmt.Sprintf("Generated plan with %d subgoals: %s", len(subgoals), describePlan(subgoals)))
	p.logger.Info("Plan generated", zap.String("goal", goal), zap.Int("subgoals", len(subgoals)))
	return plan, nil
}

// Revise produces a replacement plan after a subgoal failure. Completed
// subgoals from the prior plan are carried over unchanged at the head; the
// model only writes the remainder, pivoted away from the failed strategy.
func (p *Planner) Revise(ctx context.Context, prior schemas.Plan) (*schemas.Plan, error) {
	failed := failedDescriptions(prior)
	userPrompt := p.buildReviseUserPrompt(prior)

	instruction := plannerSystemPrompt + "\n\n" + reviseInstruction
	remainder, err := p.requestSubgoals(ctx, instruction, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to revise plan: %w", err)
	}

	if repeated := verbatimRepeat(remainder, failed); repeated != "" {
		p.logger.Warn("Revision repeated a failed subgoal, retrying once", zap.String("description", repeated))
		remainder, err = p.requestSubgoals(ctx, instruction+"\n\n"+noRepeatInstruction, userPrompt)
		if err != nil {
			return nil, fmt.Errorf("failed to revise plan: %w", err)
		}
		if repeated = verbatimRepeat(remainder, failed); repeated != "" {
			return nil, fmt.Errorf("revised plan still repeats failed subgoal %q without a changed strategy", repeated)
		}
	}

	completed := prior.Completed()
	revised := &schemas.Plan{
		Goal:      prior.Goal,
		Subgoals:  append(append([]schemas.Subgoal{}, completed...), remainder...),
		CreatedAt: time.Now().UTC(),
	}
	p.journal.Append(journal.AgentPlanner,
		fmt.Sprintf("Revised plan: kept %d completed subgoals, %d remaining: %s",
			len(completed), len(remainder), describePlan(remainder)))
	p.logger.Info("Plan revised",
		zap.Int("completed_carried", len(completed)),
		zap.Int("remaining", len(remainder)),
	)
	return revised, nil
}

func (p *Planner) requestSubgoals(ctx context.Context, systemPrompt, userPrompt string) ([]schemas.Subgoal, error) {
	raw, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     1.0,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, err
	}

	var out plannerOutput
	if err := json.Unmarshal([]byte(llmclient.ExtractJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("failed to parse planner output: %w", err)
	}
	if len(out.Subgoals) == 0 {
		return nil, fmt.Errorf("planner produced an empty subgoal list")
	}

	subgoals := make([]schemas.Subgoal, 0, len(out.Subgoals))
	for _, sg := range out.Subgoals {
		desc := strings.TrimSpace(sg.Description)
		if desc == "" {
			continue
		}
		subgoals = append(subgoals, schemas.Subgoal{
			ID:          uuid.NewString()[:8],
			Description: desc,
			Status:      schemas.SubgoalNotStarted,
		})
	}
	if len(subgoals) == 0 {
		return nil, fmt.Errorf("planner produced only blank subgoal descriptions")
	}
	return subgoals, nil
}

func (p *Planner) buildReviseUserPrompt(prior schemas.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\nFailed plan:\n", prior.Goal)
	for _, sg := range prior.Subgoals {
		fmt.Fprintf(&b, "- [%s] %s", sg.Status, sg.Description)
		if sg.CompletionReason != "" {
			fmt.Fprintf(&b, " (%s)", sg.CompletionReason)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAgent thoughts:\n")
	for _, rec := range p.journal.Snapshot() {
		fmt.Fprintf(&b, "%s\n", rec.String())
	}
	b.WriteString("\nProduce the remaining subgoals.")
	return b.String()
}

func failedDescriptions(plan schemas.Plan) []string {
	var out []string
	for _, sg := range plan.Subgoals {
		if sg.Status == schemas.SubgoalFailed {
			out = append(out, sg.Description)
		}
	}
	return out
}

// verbatimRepeat returns the first revised description that matches a
// failed one word for word, ignoring case and surrounding space.
func verbatimRepeat(revised []schemas.Subgoal, failed []string) string {
	for _, sg := range revised {
		for _, f := range failed {
			if strings.EqualFold(strings.TrimSpace(sg.Description), strings.TrimSpace(f)) {
				return sg.Description
			}
		}
	}
	return ""
}

func describePlan(subgoals []schemas.Subgoal) string {
	descs := make([]string, len(subgoals))
	for i, sg := range subgoals {
		descs[i] = sg.Description
	}
	return strings.Join(descs, " -> ")
}
