// File: internal/controller/controller.go
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/nullvane/deskhand/api/schemas"
	"github.com/nullvane/deskhand/internal/audit"
	"github.com/nullvane/deskhand/internal/config"
	"github.com/nullvane/deskhand/internal/session"
)

// maxConsecutiveRejections fails the command once this many proposals in a
// row are hard-rejected. Soft (rate-limit) rejections do not count.
const maxConsecutiveRejections = 3

// Deps carries the controller's collaborators. Every field is required.
type Deps struct {
	Queue      schemas.CommandQueue
	Perception schemas.PerceptionProvider
	Proposer   schemas.Proposer
	Validator  schemas.Validator
	Executor   schemas.Executor
	Netmon     schemas.ConnectivityMonitor
	Rules      schemas.RuleSource
	Audit      schemas.AuditSink
	Session    *session.Session
}

// Controller drives the agent loop: it takes commands off the queue in
// sequence order and, for each, repeats capture, propose, validate, apply
// until the command reaches a terminal status. It owns all status
// transitions and every audit append; the collaborators stay policy-free.
type Controller struct {
	queue     schemas.CommandQueue
	percept   schemas.PerceptionProvider
	proposer  schemas.Proposer
	validator schemas.Validator
	executor  schemas.Executor
	netmon    schemas.ConnectivityMonitor
	rules     schemas.RuleSource
	audit     schemas.AuditSink
	sess      *session.Session
	logger    *zap.Logger

	stepBudget      int
	maxRetries      int
	pollingInterval time.Duration
	commandDelay    time.Duration
	stepTimeout     time.Duration
	cooldown        time.Duration
	networkWait     time.Duration
}

// New creates a Controller from the configuration and its collaborators.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if deps.Perception == nil {
		return nil, fmt.Errorf("perception provider is required")
	}
	if deps.Proposer == nil {
		return nil, fmt.Errorf("proposer is required")
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if deps.Netmon == nil {
		return nil, fmt.Errorf("connectivity monitor is required")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit sink is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Controller{
		queue:           deps.Queue,
		percept:         deps.Perception,
		proposer:        deps.Proposer,
		validator:       deps.Validator,
		executor:        deps.Executor,
		netmon:          deps.Netmon,
		rules:           deps.Rules,
		audit:           deps.Audit,
		sess:            deps.Session,
		logger:          logger,
		stepBudget:      cfg.Automation.StepBudget,
		maxRetries:      cfg.Automation.MaxRetries,
		pollingInterval: cfg.Automation.PollingInterval,
		commandDelay:    cfg.Automation.CommandDelay,
		stepTimeout:     cfg.LLM.Timeout,
		cooldown:        cfg.Safety.RateLimitCooldown,
		networkWait:     cfg.Network.MaxWait,
	}, nil
}

// Run processes commands until the context is canceled, the queue channel
// closes, or the emergency stop fires. Between commands it idles on the
// polling interval so the stop flag is re-checked even when the queue is
// quiet.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Controller started.",
		zap.String("session_id", c.sess.ID()),
		zap.Int("step_budget", c.stepBudget),
		zap.Duration("polling_interval", c.pollingInterval))

	for {
		if c.sess.Stopped() {
			c.logger.Warn("Emergency stop observed; controller halting.",
				zap.String("reason", c.sess.StopReason()))
			return c.stopErr()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.sess.StopC():
			// Loop back; the check at the top reports the reason.

		case cmd, ok := <-c.queue.Commands():
			if !ok {
				c.logger.Info("Command channel closed; controller exiting.")
				return nil
			}
			if err := c.runCommand(ctx, cmd); err != nil {
				return err
			}

		case <-time.After(c.pollingInterval):
			// Idle tick.
		}
	}
}

// runCommand drives one command to a terminal status. A non-nil return
// halts the controller (shutdown or emergency stop); a terminal command
// failure is not an error at this level.
func (c *Controller) runCommand(ctx context.Context, cmd schemas.Command) error {
	log := c.logger.With(zap.Int64("seq", cmd.Seq), zap.String("command_id", cmd.ID))
	log.Info("Processing command.", zap.String("text", cmd.Text))

	c.sess.BeginCommand()

	// The queue pre-marks lines that failed intake screening. Capture that
	// before the in-progress transition clears the failure fields.
	screenedKind, screenedReason := cmd.FailureKind, cmd.FailureReason
	c.setStatus(&cmd, schemas.StatusInProgress, "", "")
	if screenedKind != "" {
		c.fail(&cmd, screenedKind, screenedReason)
		return nil
	}

	if NeedsConnectivity(cmd.Text) {
		if err := c.awaitConnectivity(ctx, &cmd); err != nil {
			return err
		}
		if cmd.Status.Terminal() {
			return nil
		}
	}

	return c.driveSteps(ctx, &cmd, log)
}

// awaitConnectivity gates network-dependent commands on external
// reachability. On timeout the command fails terminally; the step loop is
// never entered, so no inference tokens are spent on a dead network.
func (c *Controller) awaitConnectivity(ctx context.Context, cmd *schemas.Command) error {
	c.logger.Info("Command targets a network application; waiting for connectivity.",
		zap.Int64("seq", cmd.Seq), zap.Duration("max_wait", c.networkWait))

	waitCtx, cancel := c.stopAware(ctx)
	defer cancel()

	if c.netmon.WaitUntilReachable(waitCtx, c.networkWait) {
		return nil
	}
	if c.sess.Stopped() {
		c.fail(cmd, schemas.FailureAborted, "emergency stop during connectivity wait")
		return c.stopErr()
	}
	if err := ctx.Err(); err != nil {
		// Shutdown: leave the command non-terminal for the next run.
		return err
	}
	c.fail(cmd, schemas.FailureConnectivityTimeout,
		fmt.Sprintf("network not reachable within %s", c.networkWait))
	return nil
}

// driveSteps is the capture/propose/validate/apply loop. The screen is
// recaptured only when nil: a hard rejection keeps the current capture (the
// desktop did not change, the proposal was just bad) while an applied
// action clears it so the next step sees the result.
func (c *Controller) driveSteps(ctx context.Context, cmd *schemas.Command, log *zap.Logger) error {
	var (
		screen   *schemas.ScreenState
		proposal *schemas.ActionProposal
		step     int
		faults   int // consecutive transient step failures
	)

	for {
		if c.sess.Stopped() {
			c.fail(cmd, schemas.FailureAborted, c.sess.StopReason())
			return c.stopErr()
		}
		if err := ctx.Err(); err != nil {
			log.Info("Shutdown mid-command; leaving it for the next run.")
			return err
		}

		if proposal == nil {
			if c.sess.Steps() >= c.stepBudget {
				c.fail(cmd, schemas.FailureStepBudgetExceeded,
					fmt.Sprintf("no terminal action within %d steps", c.stepBudget))
				return nil
			}

			if screen == nil {
				state, err := c.percept.Capture(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					faults++
					log.Warn("Screen capture failed.", zap.Int("attempt", faults), zap.Error(err))
					if faults > c.maxRetries {
						c.fail(cmd, schemas.KindOf(err), "screen capture failed: "+err.Error())
						return nil
					}
					continue
				}
				state.Generation = c.sess.NextGeneration()
				screen = state
			}

			stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
			next, err := c.proposer.Propose(stepCtx, schemas.ProposalRequest{
				Screen:  screen,
				Command: cmd.Text,
				Rules:   c.rules.Current(),
				History: c.sess.History(),
			})
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				kind := schemas.KindOf(err)
				if errors.Is(err, context.DeadlineExceeded) {
					kind = schemas.FailureTimeout
				}
				faults++
				log.Warn("Inference failed.",
					zap.String("kind", string(kind)), zap.Int("attempt", faults), zap.Error(err))
				if faults > c.maxRetries {
					c.fail(cmd, kind, err.Error())
					return nil
				}
				// Recapture; the desktop may have moved on while we retried.
				screen = nil
				continue
			}
			proposal = next
			step = c.sess.NextStep()
			log.Debug("Proposal received.",
				zap.Int("step", step), zap.String("kind", string(proposal.Kind)))
		}

		verdict := c.validator.Validate(proposal, c.sess.History(), screen.Bounds, time.Now())

		if !verdict.Accepted {
			c.record(audit.StepRecord(*cmd, step, proposal, &verdict, nil))

			if verdict.Soft {
				// Rate limited. Cool down and re-validate the same proposal;
				// no history entry, no new inference call.
				log.Debug("Rate limited; cooling down.", zap.Duration("cooldown", c.cooldown))
				if err := c.pause(ctx, c.cooldown); err != nil {
					return err
				}
				continue
			}

			c.sess.RecordAction(rejectedEntry(proposal, verdict))
			log.Info("Proposal rejected.",
				zap.String("kind", string(verdict.Kind)), zap.String("reason", verdict.Reason))

			if c.sess.HardRejections() >= maxConsecutiveRejections {
				c.fail(cmd, verdict.Kind, fmt.Sprintf(
					"%d consecutive rejected proposals; last: %s",
					maxConsecutiveRejections, verdict.Reason))
				return nil
			}
			// Re-query against the same capture; the screen did not change.
			proposal = nil
			continue
		}

		outcome := c.executor.Apply(ctx, verdict.Normalized)
		c.record(audit.StepRecord(*cmd, step, proposal, &verdict, &outcome))

		if !outcome.Applied {
			if outcome.Kind == schemas.FailureAborted {
				if c.sess.Stopped() {
					c.fail(cmd, schemas.FailureAborted, outcome.Error)
					return c.stopErr()
				}
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			faults++
			log.Warn("Action failed.",
				zap.String("kind", string(outcome.Kind)),
				zap.Int("attempt", faults),
				zap.String("error", outcome.Error))
			if faults > c.maxRetries {
				c.fail(cmd, outcome.Kind, outcome.Error)
				return nil
			}
			proposal, screen = nil, nil
			continue
		}

		c.sess.RecordAction(acceptedEntry(proposal, verdict.Normalized))

		if proposal.Kind == schemas.ActionDone {
			c.complete(cmd)
			return nil
		}

		log.Debug("Step applied.",
			zap.Int("step", step),
			zap.String("kind", string(proposal.Kind)),
			zap.Duration("elapsed", outcome.Elapsed))

		faults = 0
		proposal, screen = nil, nil

		// Settle so the next capture sees a stable UI.
		if err := c.pause(ctx, c.commandDelay); err != nil {
			return err
		}
	}
}

// -- Status transitions --

func (c *Controller) setStatus(cmd *schemas.Command, status schemas.CommandStatus, kind schemas.FailureKind, reason string) {
	cmd.Status = status
	cmd.FailureKind = kind
	cmd.FailureReason = reason
	c.record(audit.StatusRecord(*cmd, status, kind, reason))
}

func (c *Controller) complete(cmd *schemas.Command) {
	c.setStatus(cmd, schemas.StatusCompleted, "", "")
	c.advanceMarker(cmd.Seq)
	c.logger.Info("Command completed.",
		zap.Int64("seq", cmd.Seq),
		zap.String("text", cmd.Text),
		zap.Int("steps", c.sess.Steps()))
}

func (c *Controller) fail(cmd *schemas.Command, kind schemas.FailureKind, reason string) {
	c.setStatus(cmd, schemas.StatusFailed, kind, reason)
	c.advanceMarker(cmd.Seq)
	c.logger.Error("Command failed.",
		zap.Int64("seq", cmd.Seq),
		zap.String("text", cmd.Text),
		zap.String("kind", string(kind)),
		zap.String("reason", reason))
}

// advanceMarker persists the terminal outcome. A marker write failure is
// logged but does not fail the command; the worst case is a redo after
// restart.
func (c *Controller) advanceMarker(seq int64) {
	if err := c.queue.MarkDone(seq); err != nil {
		c.logger.Error("Failed to advance the processed marker.",
			zap.Int64("seq", seq), zap.Error(err))
	}
}

func (c *Controller) record(rec *schemas.AuditRecord) {
	if err := c.audit.Record(rec); err != nil {
		c.logger.Error("Failed to append audit record.", zap.Error(err))
	}
}

// -- Waiting --

// pause sleeps for d, waking early on shutdown or the emergency stop. Stop
// wakes return nil; the loop-top checks decide what the stop means.
func (c *Controller) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.sess.StopC():
		return nil
	case <-timer.C:
		return nil
	}
}

// stopAware derives a context that is additionally canceled by the
// emergency stop, for handing to collaborators that only know about
// contexts.
func (c *Controller) stopAware(ctx context.Context) (context.Context, context.CancelFunc) {
	derived, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.sess.StopC():
			cancel()
		case <-derived.Done():
		}
	}()
	return derived, cancel
}

func (c *Controller) stopErr() error {
	return schemas.NewError(schemas.FailureAborted, "emergency stop: %s", c.sess.StopReason())
}

// -- History entries --

func acceptedEntry(p *schemas.ActionProposal, n *schemas.NormalizedAction) schemas.HistoryEntry {
	return schemas.HistoryEntry{
		Kind:              n.Kind,
		X:                 n.X,
		Y:                 n.Y,
		Text:              n.Text,
		Accepted:          true,
		CaptureGeneration: p.CaptureGeneration,
		At:                time.Now().UTC(),
	}
}

func rejectedEntry(p *schemas.ActionProposal, v schemas.SafetyVerdict) schemas.HistoryEntry {
	return schemas.HistoryEntry{
		Kind:              p.Kind,
		X:                 int(math.Round(p.X)),
		Y:                 int(math.Round(p.Y)),
		Text:              p.Text,
		Accepted:          false,
		RejectReason:      v.Reason,
		RejectKind:        v.Kind,
		CaptureGeneration: p.CaptureGeneration,
		At:                time.Now().UTC(),
	}
}
