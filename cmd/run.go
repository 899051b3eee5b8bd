// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/audit"
	"github.com/nullvane/deskhand/internal/config"
	"github.com/nullvane/deskhand/internal/controller"
	"github.com/nullvane/deskhand/internal/inference"
	"github.com/nullvane/deskhand/internal/input"
	"github.com/nullvane/deskhand/internal/netmon"
	"github.com/nullvane/deskhand/internal/observability"
	"github.com/nullvane/deskhand/internal/queue"
	"github.com/nullvane/deskhand/internal/rules"
	"github.com/nullvane/deskhand/internal/safety"
	"github.com/nullvane/deskhand/internal/screen"
	"github.com/nullvane/deskhand/internal/session"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Starts the agent loop against the command queue",
		Long: `Run starts the full agent: the queue watcher, the rules watcher, the
failsafe corner watch, and the controller loop. It keeps processing
commands until interrupted or until the emergency stop fires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := observability.GetLogger()

			components, err := initializeAgentComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Close()
				}
				return fmt.Errorf("failed to initialize agent components: %w", err)
			}
			defer components.Close()

			logger.Info("Agent ready",
				zap.String("session_id", components.Session.ID()),
				zap.String("model", cfg.LLM.Model),
				zap.String("commands_file", cfg.Queue.CommandsFile),
				zap.Bool("failsafe", components.Watch != nil))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return components.Queue.Run(gctx) })
			g.Go(func() error { return components.Rules.Watch(gctx) })
			if components.Watch != nil {
				g.Go(func() error { return components.Watch.Run(gctx) })
			}
			g.Go(func() error { return components.Controller.Run(gctx) })

			err = g.Wait()
			switch {
			case err == nil || errors.Is(err, context.Canceled):
				logger.Info("Agent shut down.")
				return nil
			case schemas.KindOf(err) == schemas.FailureAborted:
				logger.Warn("Agent halted by the emergency stop; restart to resume.", zap.Error(err))
				return err
			default:
				logger.Error("Agent exited with an error", zap.Error(err))
				return err
			}
		},
	}
	return runCmd
}

// agentComponents holds the initialized services for one agent run.
type agentComponents struct {
	Session    *session.Session
	Inference  *inference.Client
	Queue      *queue.Source
	Rules      *rules.Source
	Audit      *audit.Writer
	Controller *controller.Controller
	Watch      *input.CornerWatch
}

// Close releases everything holding file handles.
func (ac *agentComponents) Close() {
	if ac.Audit != nil {
		if err := ac.Audit.Close(); err != nil {
			observability.GetLogger().Warn("Error closing the audit trail", zap.Error(err))
		}
	}
	observability.Sync()
}

// initializeAgentComponents handles dependency injection for the run
// command. The inference endpoint is verified first so a dead backend is
// reported before anything touches the desktop.
func initializeAgentComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*agentComponents, error) {
	components := &agentComponents{}

	// 1. Inference backend.
	client, err := inference.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize the inference client: %w", err)
	}
	if err := client.Healthy(ctx); err != nil {
		return nil, fmt.Errorf("inference endpoint %s is not reachable: %w", cfg.LLM.Endpoint, err)
	}
	if err := client.EnsureModel(ctx); err != nil {
		return nil, fmt.Errorf("model %q is not usable: %w", cfg.LLM.Model, err)
	}
	components.Inference = client

	// 2. Session state.
	sess := session.New(cfg.Safety.HistorySize)
	components.Session = sess

	// 3. File-backed collaborators.
	queueSource, err := queue.New(cfg.Queue, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize the command queue: %w", err)
	}
	components.Queue = queueSource

	ruleSource, err := rules.New(cfg.Queue.RulesFile, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize the rule source: %w", err)
	}
	components.Rules = ruleSource

	auditWriter, err := audit.NewWriter(cfg.Queue.AuditFile)
	if err != nil {
		return components, fmt.Errorf("failed to open the audit trail: %w", err)
	}
	components.Audit = auditWriter

	// 4. Perception and execution.
	provider, err := screen.NewProvider(cfg.Screen, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize screen capture: %w", err)
	}

	driver := &input.RobotDriver{}
	executor, err := input.New(cfg.Automation, driver, sess, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize the executor: %w", err)
	}

	if cfg.Automation.Failsafe {
		watch, err := input.NewCornerWatch(cfg.Automation, driver, sess, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize the failsafe watch: %w", err)
		}
		components.Watch = watch
	}

	// 5. Controller.
	ctrl, err := controller.New(cfg, controller.Deps{
		Queue:      queueSource,
		Perception: provider,
		Proposer:   client,
		Validator:  safety.New(cfg.Safety),
		Executor:   executor,
		Netmon:     netmon.New(cfg.Network, logger),
		Rules:      ruleSource,
		Audit:      auditWriter,
		Session:    sess,
	}, logger)
	if err != nil {
		return components, fmt.Errorf("failed to create the controller: %w", err)
	}
	components.Controller = ctrl

	return components, nil
}
