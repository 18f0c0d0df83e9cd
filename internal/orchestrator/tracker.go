// Package orchestrator owns the subgoal plan. The tracker is the only
// component allowed to move subgoal statuses, and it refuses transitions
// that are not supported by recorded evidence.
package orchestrator

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/journal"
)

// Failure asserts that a subgoal can no longer be achieved. It always
// carries a concrete reason; the tracker records it before the transition.
type Failure struct {
	SubgoalID string
	Reason    string
}

// Tracker applies status transitions to the active plan and decides when
// replanning is required. All methods are safe for concurrent use, though
// the turn loop drives it sequentially.
type Tracker struct {
	mu      sync.Mutex
	plan    *schemas.Plan
	journal *journal.Journal
	logger  *zap.Logger
}

func NewTracker(plan *schemas.Plan, jnl *journal.Journal, logger *zap.Logger) *Tracker {
	return &Tracker{
		plan:    plan,
		journal: jnl,
		logger:  logger.Named("orchestrator"),
	}
}

// Plan returns a deep copy of the current plan.
func (t *Tracker) Plan() schemas.Plan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plan.Clone()
}

// Advance ensures one subgoal is PENDING and returns it. If the plan has a
// pending subgoal it is returned as-is; otherwise the first NOT_STARTED
// subgoal is promoted. Returns nil when no workable subgoal remains.
func (t *Tracker) Advance() *schemas.Subgoal {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.plan.Current(); cur != nil {
		return cur
	}
	if t.plan.NothingStarted() {
		t.journal.Append(journal.AgentOrchestrator,
			fmt.Sprintf("Plan execution started: %d subgoals toward %q", len(t.plan.Subgoals), t.plan.Goal))
	}
	for i := range t.plan.Subgoals {
		sg := &t.plan.Subgoals[i]
		if sg.Status == schemas.SubgoalNotStarted {
			sg.Status = schemas.SubgoalPending
			t.journal.Append(journal.AgentOrchestrator,
				fmt.Sprintf("Starting subgoal %q: %s", sg.ID, sg.Description))
			t.logger.Info("Subgoal started", zap.String("subgoal_id", sg.ID))
			return sg
		}
	}
	return nil
}

// Apply processes a turn outcome: the completion set reported for the
// subgoals the decision engine examined, and an optional failure assertion.
// The returned report says whether the plan now needs replanning and why.
//
// Completions are granted only under double validation: the journal must
// already hold action or observation evidence, appended before the
// completion record. A plan with no recorded activity can never have a
// subgoal marked complete.
func (t *Tracker) Apply(examined []string, completions *schemas.CompletionReport, failure *Failure) (schemas.ReplanReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var report schemas.ReplanReport

	if completions != nil && len(completions.SubgoalIDs) > 0 {
		if err := t.applyCompletions(examined, completions); err != nil {
			return report, err
		}
	}

	if failure != nil {
		if err := t.applyFailure(failure); err != nil {
			return report, err
		}
		report = schemas.NewReplanReport(failure.Reason)
	}

	return report, nil
}

func (t *Tracker) applyCompletions(examined []string, report *schemas.CompletionReport) error {
	if !t.hasActionEvidence() {
		return fmt.Errorf("completion of %v rejected: no action or observation has been recorded yet", report.SubgoalIDs)
	}

	examinedSet := make(map[string]struct{}, len(examined))
	for _, id := range examined {
		examinedSet[id] = struct{}{}
	}

	for _, id := range report.SubgoalIDs {
		if _, ok := examinedSet[id]; !ok {
			t.logger.Warn("Completion ignored for unexamined subgoal", zap.String("subgoal_id", id))
			continue
		}
		sg := t.plan.ByID(id)
		if sg == nil {
			t.logger.Warn("Completion ignored for unknown subgoal", zap.String("subgoal_id", id))
			continue
		}
		if sg.Status == schemas.SubgoalCompleted {
			continue
		}
		if !sg.Status.CanTransitionTo(schemas.SubgoalCompleted) {
			return fmt.Errorf("subgoal %q cannot move from %s to %s", id, sg.Status, schemas.SubgoalCompleted)
		}
		sg.Status = schemas.SubgoalCompleted
		sg.CompletionReason = report.Reason
		t.journal.Append(journal.AgentOrchestrator,
			fmt.Sprintf("Subgoal %q completed: %s", id, report.Reason))
		t.logger.Info("Subgoal completed", zap.String("subgoal_id", id))
	}
	return nil
}

func (t *Tracker) applyFailure(failure *Failure) error {
	sg := t.plan.ByID(failure.SubgoalID)
	if sg == nil {
		return fmt.Errorf("failure reported for unknown subgoal %q", failure.SubgoalID)
	}
	if !sg.Status.CanTransitionTo(schemas.SubgoalFailed) {
		return fmt.Errorf("subgoal %q cannot move from %s to %s", failure.SubgoalID, sg.Status, schemas.SubgoalFailed)
	}

	// The reason is journaled before the transition so the log always
	// explains a FAILED status found in the plan.
	t.journal.Append(journal.AgentOrchestrator,
		fmt.Sprintf("Subgoal %q failed: %s", failure.SubgoalID, failure.Reason))
	sg.Status = schemas.SubgoalFailed
	sg.CompletionReason = failure.Reason
	t.logger.Warn("Subgoal failed, plan needs revision",
		zap.String("subgoal_id", failure.SubgoalID),
		zap.String("reason", failure.Reason),
	)
	return nil
}

// hasActionEvidence reports whether anything observable has happened: at
// least one executor or perception record exists in the journal.
func (t *Tracker) hasActionEvidence() bool {
	for _, rec := range t.journal.Snapshot() {
		if rec.Agent == journal.AgentExecutor || rec.Agent == journal.AgentPerception {
			return true
		}
	}
	return false
}

// Replace swaps in a revised plan. The completed prefix of the old plan
// must be carried over unchanged; anything else is a revision bug.
func (t *Tracker) Replace(revised *schemas.Plan, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	completed := t.plan.Completed()
	if len(revised.Subgoals) < len(completed) {
		return fmt.Errorf("revised plan has %d subgoals but %d are already completed", len(revised.Subgoals), len(completed))
	}
	for i, sg := range completed {
		got := revised.Subgoals[i]
		if got.ID != sg.ID || got.Description != sg.Description || got.Status != schemas.SubgoalCompleted {
			return fmt.Errorf("revised plan altered completed subgoal %q at position %d", sg.ID, i)
		}
	}

	cp := revised.Clone()
	t.plan = &cp
	t.journal.Append(journal.AgentOrchestrator, fmt.Sprintf("Plan revised: %s", reason))
	t.logger.Info("Plan replaced",
		zap.Int("subgoals", len(revised.Subgoals)),
		zap.Int("completed_carried", len(completed)),
		zap.String("reason", reason),
	)
	return nil
}

// Done reports whether every subgoal is complete.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plan.AllCompleted()
}

// Failed reports whether any subgoal is failed, which invalidates the
// remainder of the plan until a revision lands.
func (t *Tracker) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plan.AnyFailed()
}

// FinalAnswer returns the completion reason of the last completed subgoal.
// When the whole plan has succeeded this doubles as the answer to the
// original goal.
func (t *Tracker) FinalAnswer() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.plan.Subgoals) - 1; i >= 0; i-- {
		sg := t.plan.Subgoals[i]
		if sg.Status == schemas.SubgoalCompleted && sg.CompletionReason != "" {
			return sg.CompletionReason
		}
	}
	return ""
}
