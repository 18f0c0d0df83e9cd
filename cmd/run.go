package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/agent"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/cortex"
	"github.com/xkilldash9x/droidpilot/internal/device"
	"github.com/xkilldash9x/droidpilot/internal/executor"
	"github.com/xkilldash9x/droidpilot/internal/journal"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/perception"
	"github.com/xkilldash9x/droidpilot/internal/planner"
	"github.com/xkilldash9x/droidpilot/internal/recorder"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [goal...]",
		Short: "Drives the device toward the given natural-language goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()
			goal := strings.Join(args, " ")

			// Flag overrides on top of config/env values.
			if v, _ := cmd.Flags().GetInt("max-turns"); v > 0 {
				cfg.Agent.MaxTurns = v
			}
			if v, _ := cmd.Flags().GetInt("max-replans"); v >= 0 && cmd.Flags().Changed("max-replans") {
				cfg.Agent.MaxReplans = v
			}
			if record, _ := cmd.Flags().GetBool("record"); record {
				cfg.Recorder.Enabled = true
			}

			logger.Info("Starting session",
				zap.String("goal", goal),
				zap.String("bridge_url", cfg.Device.BridgeURL),
				zap.Int("max_turns", cfg.Agent.MaxTurns),
				zap.Int("max_replans", cfg.Agent.MaxReplans),
			)

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize session components: %w", err)
			}
			defer components.Shutdown()

			session := agent.NewSession(
				cfg.Agent,
				components.Planner,
				components.Engine,
				components.Dispatcher,
				components.Source,
				components.Journal,
				logger,
			).WithSettler(components.Bridge)
			if components.Traces != nil {
				session = session.WithTraceRecorder(components.Traces)
			}

			result, err := session.Run(ctx, goal)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Session aborted by user signal")
					return fmt.Errorf("session aborted")
				}
				logger.Error("Session failed", zap.Error(err))
				return err
			}

			logger.Info("Session completed", zap.Int("turns", result.Turns))
			fmt.Printf("\nGoal achieved in %d turns.\n%s\n", result.Turns, result.Answer)
			return nil
		},
	}

	runCmd.Flags().Int("max-turns", 0, "Maximum decision cycles for this session. (Overrides config/env)")
	runCmd.Flags().Int("max-replans", -1, "Maximum plan revisions before giving up. (Overrides config/env)")
	runCmd.Flags().Bool("record", false, "Record per-turn screenshots and decisions to the traces folder.")

	return runCmd
}

// runComponents holds initialized services.
type runComponents struct {
	Bridge     *device.Bridge
	Router     *llmclient.LLMRouter
	Journal    *journal.Journal
	Planner    *planner.Planner
	Engine     *cortex.Engine
	Dispatcher *executor.Dispatcher
	Source     perception.Source
	Traces     *recorder.TraceRecorder
	PGStore    *recorder.PGStore
	DBPool     *pgxpool.Pool
}

// Shutdown closes everything that holds external resources.
func (rc *runComponents) Shutdown() {
	if rc.Router != nil {
		if err := rc.Router.Close(); err != nil {
			observability.GetLogger().Warn("Error closing LLM clients", zap.Error(err))
		}
	}
	if rc.PGStore != nil {
		rc.PGStore.Close()
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. LLM clients, one per tier.
	router, err := llmclient.NewRouterFromConfig(ctx, cfg.Agent.LLM, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize LLM clients: %w", err)
	}
	components.Router = router

	// 2. Device bridge and perception.
	bridge := device.NewBridge(cfg.Device, logger)
	components.Bridge = bridge
	components.Source = perception.NewDeviceSource(bridge, router, logger)

	// 3. Shared thought journal.
	jnl := journal.New(logger)
	components.Journal = jnl

	// 4. Agents.
	components.Planner = planner.New(router, jnl, logger)
	components.Engine = cortex.New(router, jnl, cfg.Agent, logger)
	components.Dispatcher = executor.NewDispatcher(bridge, perception.NewResolver(logger), jnl, logger)

	// 5. Optional trace archiving.
	if cfg.Recorder.Enabled {
		traceName := time.Now().Format("2006-01-02_15-04-05")
		traces, err := recorder.NewTraceRecorder(cfg.Recorder.TracesPath, traceName, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize trace recorder: %w", err)
		}
		components.Traces = traces
	}

	// 6. Optional journal mirroring into Postgres.
	if cfg.Recorder.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Recorder.PostgresDSN)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = pool

		pgStore, err := recorder.NewPGStore(ctx, pool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize journal store: %w", err)
		}
		components.PGStore = pgStore
		jnl.AddSink(pgStore)
	}

	return components, nil
}
