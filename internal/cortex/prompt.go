package cortex

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

const decisionSystemPrompt = `You are the decision engine of an autonomous mobile device operator.
Each turn you receive the subgoal plan, the full log of agent thoughts and the current
screen (element hierarchy plus screenshot). Decide what to do this turn.

Available tools: tap, long_press_on, swipe, input_text, focus_and_input_text, clear_text,
focus_and_clear_text, erase_one_char, press_key, launch_app, stop_app, open_link, back,
wait_for_delay, analyze_screen.

Rules you must follow:
- Target elements with every locator you have evidence for: resource_id (plus
  resource_id_index when duplicated), coordinates bounds, and text (plus text_index).
- An action whose effect cannot be predicted (back, launch_app, stop_app, open_link,
  press_key, or tapping a navigational element) must be the ONLY action you emit this
  turn. Predictable actions such as focus-then-type may be chained in order.
- Never emit both actions and an analysis request in the same turn; actions would win
  and the analysis would be discarded.
- Mark subgoals complete only when the log and the screen contain evidence of the
  actions that achieved them, citing that evidence in goals_completion_reason.
- If the last turns repeat the same actions without progress, switch strategy. Only
  declare subgoal_failure when no alternative remains.
- During open-ended operations such as scrolling until something is found, record a
  checkpoint (last item or state seen) so a later turn can resume without guessing.

Respond with JSON only:
{
  "decisions": [{"name": "...", "arguments": {...}, "thought": "...", "navigational": false}],
  "decisions_reason": "...",
  "complete_subgoals_by_ids": [],
  "goals_completion_reason": "",
  "analysis_request": "",
  "subgoal_failure": null,
  "checkpoint": ""
}`

const pivotInstruction = `IMPORTANT: your previous approach has been attempted repeatedly without
progress. Do NOT emit those actions again. Choose a structurally different strategy
(for example scroll or search instead of a failed direct tap), or declare
subgoal_failure with a concrete reason if nothing else is plausible.`

func (e *Engine) buildUserPrompt(plan schemas.Plan, snap *schemas.ScreenSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Goal: %s\n\nPlan:\n", plan.Goal)
	for _, sg := range plan.Subgoals {
		marker := " "
		if sg.Status == schemas.SubgoalPending {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s [%s] %s: %s\n", marker, sg.Status, sg.ID, sg.Description)
	}

	b.WriteString("\nAgent thoughts:\n")
	records := e.journal.Snapshot()
	if len(records) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, rec := range records {
		b.WriteString(rec.String())
		b.WriteString("\n")
	}

	b.WriteString("\nCurrent screen elements:\n")
	if snap == nil || len(snap.Elements) == 0 {
		b.WriteString("(no elements observed)\n")
	} else {
		writeElements(&b, snap)
	}

	b.WriteString("\nDecide now.")
	return b.String()
}

// writeElements flattens the element tree into one line per interesting
// element. Structural containers without id or text are skipped to keep the
// prompt focused.
func writeElements(b *strings.Builder, snap *schemas.ScreenSnapshot) {
	snap.Walk(func(el *schemas.UIElement) bool {
		if el.ResourceID == "" && el.Text == "" {
			return true
		}
		fmt.Fprintf(b, "- ")
		if el.ResourceID != "" {
			fmt.Fprintf(b, "id=%s ", el.ResourceID)
		}
		if el.Text != "" {
			fmt.Fprintf(b, "text=%q ", el.Text)
		}
		if el.Class != "" {
			fmt.Fprintf(b, "class=%s ", el.Class)
		}
		flags := make([]string, 0, 2)
		if el.Clickable {
			flags = append(flags, "clickable")
		}
		if el.Focused {
			flags = append(flags, "focused")
		}
		if len(flags) > 0 {
			fmt.Fprintf(b, "%s ", strings.Join(flags, ","))
		}
		fmt.Fprintf(b, "bounds=[%d,%d %dx%d]\n", el.Bounds.X, el.Bounds.Y, el.Bounds.Width, el.Bounds.Height)
		return true
	})
}
