package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valeworks/valet/internal/config"
	"github.com/valeworks/valet/internal/daemon"
	"github.com/valeworks/valet/internal/daemon/components"
	"github.com/valeworks/valet/internal/heartbeat"
	"github.com/valeworks/valet/internal/rpc"
	"github.com/valeworks/valet/internal/skill"
	"github.com/valeworks/valet/internal/skill/builtin"
	"github.com/valeworks/valet/internal/trust"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the skills host daemon",
	Long:  `Starts the skills host as a long-running service: the bundled skills behind the RPC server, the heartbeat scheduler, and the trust policy store, under component lifecycle orchestration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}

		budget, err := config.DurationOrDefault(cfg.Heartbeat.SkillBudget, config.DefaultHeartbeatSkillBudget)
		if err != nil {
			return fmt.Errorf("parse heartbeat skill budget: %w", err)
		}

		registry := skill.NewRegistryWithBudget(budget)
		if err := registry.Register(builtin.NewTasksSkill()); err != nil {
			return fmt.Errorf("register bundled skills: %w", err)
		}

		store, err := openTrustStore(cmd.Context(), &cfg.Trust)
		if err != nil {
			return fmt.Errorf("open trust store: %w", err)
		}
		controller := trust.NewController(store)

		scheduler, err := heartbeat.NewScheduler(cfg.Heartbeat,
			func(ctx context.Context, userIDs []string) ([]skill.HeartbeatAction, error) {
				return registry.TriggerHeartbeat(ctx, userIDs), nil
			},
			heartbeatSink(controller),
		)
		if err != nil {
			return fmt.Errorf("configure heartbeat scheduler: %w", err)
		}

		daemonMgr.AddComponent(components.NewTrustStoreComponent(store))
		daemonMgr.AddComponent(components.NewRegistryComponent(registry))
		daemonMgr.AddComponent(components.NewServerComponent(rpc.NewServer(registry, &cfg.Server)))
		daemonMgr.AddComponent(components.NewHeartbeatComponent(scheduler))

		if err := daemonMgr.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// heartbeatSink consults the trust controller for each proposed action and
// logs the verdict. Actually executing approved actions is orchestrator
// territory; the host only decides and reports.
func heartbeatSink(controller *trust.Controller) heartbeat.ActionSink {
	return func(ctx context.Context, action skill.HeartbeatAction) {
		decision, err := controller.Decide(ctx, action.UserID, trust.Domain(action.Skill), action.Type)
		if err != nil {
			slog.Error("Trust decision failed for heartbeat action",
				"skill", action.Skill, "type", action.Type, "error", err)
			return
		}

		slog.Info("Heartbeat action evaluated",
			"skill", action.Skill,
			"type", action.Type,
			"user", action.UserID,
			"priority", action.Priority,
			"mode", decision.Mode,
			"should_execute", decision.ShouldExecute,
			"reason", decision.Reason)
	}
}

func openTrustStore(ctx context.Context, cfg *config.TrustConfig) (trust.PersonalStorage, error) {
	switch cfg.Backend {
	case "memory":
		return trust.NewMemoryStore(), nil
	case "file", "":
		return trust.NewFileStore(ctx, cfg.Path)
	case "sqlite":
		return trust.NewSQLStore(ctx, filepath.Join(cfg.Path, "policies.db"))
	default:
		return nil, fmt.Errorf("unknown trust backend %q (expected memory, file, or sqlite)", cfg.Backend)
	}
}

func init() {
	serveCmd.Flags().String("trust.backend", config.DefaultTrustBackend, "trust policy storage backend (memory, file, sqlite)")
	serveCmd.Flags().String("heartbeat.schedule", config.DefaultHeartbeatSchedule, "heartbeat schedule (cron spec or @every duration)")
	rootCmd.AddCommand(serveCmd)
}
