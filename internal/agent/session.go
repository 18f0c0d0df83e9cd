// Package agent runs the orchestration loop: plan, observe, decide, act,
// re-evaluate, and replan when the plan stops matching reality.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/cortex"
	"github.com/xkilldash9x/droidpilot/internal/executor"
	"github.com/xkilldash9x/droidpilot/internal/journal"
	"github.com/xkilldash9x/droidpilot/internal/orchestrator"
	"github.com/xkilldash9x/droidpilot/internal/perception"
	"github.com/xkilldash9x/droidpilot/internal/recorder"
)

// ErrPlanExhausted means replanning could not produce a viable revision;
// the goal fails with the accumulated reason chain.
var ErrPlanExhausted = errors.New("plan exhausted: no viable revision remains")

// ErrMaxTurns means the turn budget ran out before the plan completed.
var ErrMaxTurns = errors.New("maximum turns reached before the goal completed")

// PlanSource produces and revises plans.
type PlanSource interface {
	Generate(ctx context.Context, goal string) (*schemas.Plan, error)
	Revise(ctx context.Context, prior schemas.Plan) (*schemas.Plan, error)
}

// Decider produces one decision per turn.
type Decider interface {
	Decide(ctx context.Context, plan schemas.Plan, snap *schemas.ScreenSnapshot) (*cortex.Outcome, error)
}

// BatchExecutor runs a decision batch against the device.
type BatchExecutor interface {
	Execute(ctx context.Context, batch []schemas.ToolCall, snap *schemas.ScreenSnapshot) ([]executor.Result, error)
}

// Settler waits out the post-action settle delay.
type Settler interface {
	Settle(ctx context.Context) error
}

// Result is the final outcome of a session run.
type Result struct {
	Answer string
	Turns  int
}

// Session wires the agents into one turn-based loop over a single goal.
type Session struct {
	cfg      config.AgentConfig
	planner  PlanSource
	decider  Decider
	executor BatchExecutor
	source   perception.Source
	settler  Settler
	journal  *journal.Journal
	traces   *recorder.TraceRecorder
	logger   *zap.Logger
}

func NewSession(
	cfg config.AgentConfig,
	planner PlanSource,
	decider Decider,
	exec BatchExecutor,
	source perception.Source,
	jnl *journal.Journal,
	logger *zap.Logger,
) *Session {
	return &Session{
		cfg:      cfg,
		planner:  planner,
		decider:  decider,
		executor: exec,
		source:   source,
		journal:  jnl,
		logger:   logger.Named("session"),
	}
}

// WithSettler adds a post-batch settle wait, usually the device bridge.
func (s *Session) WithSettler(settler Settler) *Session {
	s.settler = settler
	return s
}

// WithTraceRecorder enables per-turn trace files.
func (s *Session) WithTraceRecorder(traces *recorder.TraceRecorder) *Session {
	s.traces = traces
	return s
}

// Run drives the loop until the plan completes, replanning is exhausted, or
// the turn budget runs out.
func (s *Session) Run(ctx context.Context, goal string) (*Result, error) {
	plan, err := s.planner.Generate(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("failed to plan goal: %w", err)
	}
	tracker := orchestrator.NewTracker(plan, s.journal, s.logger)

	replans := 0
	var failureChain []string

	maxTurns := s.cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 60
	}

	for turn := 1; turn <= maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tracker.Done() {
			return s.finish(tracker, turn - 1)
		}
		if tracker.Advance() == nil {
			break
		}

		snap, err := s.source.Observe(ctx)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn, err)
		}

		out, err := s.decider.Decide(ctx, tracker.Plan(), snap)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn, err)
		}
		s.recordTurn(turn, snap, out)

		var failure *orchestrator.Failure
		if out.Failure != nil {
			failure = &orchestrator.Failure{SubgoalID: out.Failure.SubgoalID, Reason: out.Failure.Reason}
		}

		report, err := tracker.Apply(out.Examined, out.Decision.Completions, failure)
		if err != nil {
			// A rejected completion is evidence of over-eager reasoning,
			// not a fatal condition. Journal it and keep going.
			s.journal.Append(journal.AgentOrchestrator, fmt.Sprintf("Rejected state change: %v", err))
			s.logger.Warn("State change rejected", zap.Error(err))
		}

		if report.NeedsReplan {
			failureChain = append(failureChain, report.Reason)
			replans++
			if replans > s.cfg.MaxReplans {
				return nil, fmt.Errorf("%w after %d replans: %s", ErrPlanExhausted, replans-1, strings.Join(failureChain, "; "))
			}
			if err := s.replan(ctx, tracker, report.Reason); err != nil {
				failureChain = append(failureChain, err.Error())
				return nil, fmt.Errorf("%w: %s", ErrPlanExhausted, strings.Join(failureChain, "; "))
			}
			continue
		}

		if tracker.Done() {
			return s.finish(tracker, turn)
		}

		if batch := out.Decision.Batch(); len(batch) > 0 {
			if _, err := s.executor.Execute(ctx, batch, snap); err != nil {
				return nil, fmt.Errorf("turn %d: %w", turn, err)
			}
			if s.settler != nil {
				if err := s.settler.Settle(ctx); err != nil {
					return nil, err
				}
			}
			continue
		}

		if analysis := out.Decision.Analysis(); analysis != nil {
			answer, err := s.source.Analyze(ctx, analysis.Prompt, snap)
			if err != nil {
				s.journal.Append(journal.AgentPerception, fmt.Sprintf("Screen analysis failed: %v", err))
				s.logger.Warn("Screen analysis failed", zap.Error(err))
				continue
			}
			s.journal.Append(journal.AgentPerception, fmt.Sprintf("Screen analysis (%s): %s", analysis.Prompt, answer))
		}
	}

	if tracker.Done() {
		return s.finish(tracker, maxTurns)
	}
	return nil, fmt.Errorf("%w (limit %d)", ErrMaxTurns, maxTurns)
}

func (s *Session) finish(tracker *orchestrator.Tracker, turns int) (*Result, error) {
	answer := tracker.FinalAnswer()
	s.journal.Append(journal.AgentOrchestrator, fmt.Sprintf("Goal achieved: %s", answer))
	s.logger.Info("Goal achieved", zap.Int("turns", turns), zap.String("answer", answer))
	return &Result{Answer: answer, Turns: turns}, nil
}

// replan asks the planner for a revision and installs it. Not-yet-executed
// work from the invalidated plan simply never runs; the journal keeps the
// full history across the boundary.
func (s *Session) replan(ctx context.Context, tracker *orchestrator.Tracker, reason string) error {
	s.logger.Info("Replanning", zap.String("reason", reason))

	revised, err := s.planner.Revise(ctx, tracker.Plan())
	if err != nil {
		return fmt.Errorf("revision failed: %w", err)
	}
	if err := tracker.Replace(revised, reason); err != nil {
		return fmt.Errorf("revision rejected: %w", err)
	}
	return nil
}

func (s *Session) recordTurn(turn int, snap *schemas.ScreenSnapshot, out *cortex.Outcome) {
	if s.traces == nil {
		return
	}
	doc := map[string]any{
		"reason":      out.Decision.Reason,
		"batch":       out.Decision.Batch(),
		"analysis":    out.Decision.Analysis(),
		"completions": out.Decision.Completions,
	}
	if out.Failure != nil {
		doc["failure"] = map[string]string{"subgoal_id": out.Failure.SubgoalID, "reason": out.Failure.Reason}
	}
	screenshot := ""
	if snap != nil {
		screenshot = snap.ScreenshotB64
	}
	s.traces.RecordTurn(turn, screenshot, doc)
}
