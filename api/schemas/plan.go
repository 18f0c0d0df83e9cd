package schemas

import (
	"fmt"
	"time"
)

// SubgoalStatus tracks the lifecycle of a single milestone within a plan.
// Transitions only ever move forward: NOT_STARTED -> PENDING -> COMPLETED or
// FAILED, with a direct NOT_STARTED -> COMPLETED/FAILED shortcut when
// observation supports out-of-order completion. COMPLETED and FAILED are
// terminal.
type SubgoalStatus string

const (
	SubgoalNotStarted SubgoalStatus = "NOT_STARTED" // Queued, not yet the active target.
	SubgoalPending    SubgoalStatus = "PENDING"     // The current target of the decision loop.
	SubgoalCompleted  SubgoalStatus = "COMPLETED"   // Achieved, with a journaled reason.
	SubgoalFailed     SubgoalStatus = "FAILED"      // Abandoned; invalidates the rest of the plan.
)

// Terminal reports whether the status permits no further transitions.
func (s SubgoalStatus) Terminal() bool {
	return s == SubgoalCompleted || s == SubgoalFailed
}

// CanTransitionTo enforces the forward-only state machine for a subgoal.
func (s SubgoalStatus) CanTransitionTo(next SubgoalStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case SubgoalNotStarted:
		return next == SubgoalPending || next == SubgoalCompleted || next == SubgoalFailed
	case SubgoalPending:
		return next == SubgoalCompleted || next == SubgoalFailed
	}
	return false
}

// Subgoal is one milestone of a plan with an independent completion status.
type Subgoal struct {
	ID               string        `json:"id"`
	Description      string        `json:"description"`
	Status           SubgoalStatus `json:"status"`
	CompletionReason string        `json:"completion_reason,omitempty"`
}

func (s Subgoal) String() string {
	return fmt.Sprintf("[%s] %s (%s)", s.Status, s.Description, s.ID)
}

// Plan is an ordered sequence of subgoals. Order is a dependency hint, not a
// hard constraint: later subgoals may complete before earlier ones when the
// evidence supports it.
type Plan struct {
	Goal      string    `json:"goal"`
	Subgoals  []Subgoal `json:"subgoals"`
	CreatedAt time.Time `json:"created_at"`
}

// Current returns the PENDING subgoal, or nil when none is active.
func (p *Plan) Current() *Subgoal {
	for i := range p.Subgoals {
		if p.Subgoals[i].Status == SubgoalPending {
			return &p.Subgoals[i]
		}
	}
	return nil
}

// ByID returns the subgoal with the given id, or nil.
func (p *Plan) ByID(id string) *Subgoal {
	for i := range p.Subgoals {
		if p.Subgoals[i].ID == id {
			return &p.Subgoals[i]
		}
	}
	return nil
}

// Remaining returns the PENDING subgoal (if any) followed by every NOT_STARTED
// subgoal, in plan order. This is the slice the decision engine examines each
// turn.
func (p *Plan) Remaining() []Subgoal {
	var out []Subgoal
	for _, sg := range p.Subgoals {
		if sg.Status == SubgoalPending || sg.Status == SubgoalNotStarted {
			out = append(out, sg)
		}
	}
	return out
}

// Completed returns the COMPLETED subgoals in plan order.
func (p *Plan) Completed() []Subgoal {
	var out []Subgoal
	for _, sg := range p.Subgoals {
		if sg.Status == SubgoalCompleted {
			out = append(out, sg)
		}
	}
	return out
}

// AllCompleted reports whether every subgoal has reached COMPLETED.
func (p *Plan) AllCompleted() bool {
	if len(p.Subgoals) == 0 {
		return false
	}
	for _, sg := range p.Subgoals {
		if sg.Status != SubgoalCompleted {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any subgoal is FAILED, which invalidates the
// remainder of the plan.
func (p *Plan) AnyFailed() bool {
	for _, sg := range p.Subgoals {
		if sg.Status == SubgoalFailed {
			return true
		}
	}
	return false
}

// NothingStarted reports whether the plan has not begun executing yet.
func (p *Plan) NothingStarted() bool {
	for _, sg := range p.Subgoals {
		if sg.Status != SubgoalNotStarted {
			return false
		}
	}
	return len(p.Subgoals) > 0
}

// Clone returns a deep copy so callers can mutate plans without sharing state.
func (p *Plan) Clone() Plan {
	cp := Plan{Goal: p.Goal, CreatedAt: p.CreatedAt}
	cp.Subgoals = make([]Subgoal, len(p.Subgoals))
	copy(cp.Subgoals, p.Subgoals)
	return cp
}
